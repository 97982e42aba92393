package api

import (
	"net/http"
	"strconv"

	"abiscope/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChainStore 数据库中的链配置
type ChainStore interface {
	LoadChains() ([]*config.ChainConfig, error)
	UpsertChain(chain *config.ChainConfig, position int) error
	DisableChain(chainID uint64) error
}

// ChainAdmin 管理数据库中的链配置，修改在服务重启后生效
type ChainAdmin struct {
	store  ChainStore
	logger *logrus.Logger
}

// NewChainAdmin 创建链配置管理
func NewChainAdmin(store ChainStore, logger *logrus.Logger) *ChainAdmin {
	return &ChainAdmin{store: store, logger: logger}
}

// chainView 链配置，不暴露RPC地址
type chainView struct {
	ID            uint64 `json:"id"`
	Name          string `json:"name"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
	BlockscoutURL string `json:"blockscout_url,omitempty"`
	Verification  bool   `json:"verification"`
	HasRPC        bool   `json:"has_rpc"`
}

// ListChains 获取启用的链配置
func (ca *ChainAdmin) ListChains(c *gin.Context) {
	chains, err := ca.store.LoadChains()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取链配置失败",
			"message": err.Error(),
		})
		return
	}

	views := make([]chainView, len(chains))
	for i, chain := range chains {
		views[i] = chainView{
			ID:            chain.ID,
			Name:          chain.Name,
			ExplorerURL:   chain.ExplorerURL,
			BlockscoutURL: chain.BlockscoutURL,
			Verification:  chain.Verification,
			HasRPC:        chain.RPCURL != "",
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"chains": views,
		"total":  len(views),
	})
}

// UpsertChain 新增或更新链配置
func (ca *ChainAdmin) UpsertChain(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil || chainID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的链ID"})
		return
	}

	var req struct {
		Name          string `json:"name" binding:"required"`
		RPCURL        string `json:"rpc_url" binding:"required"`
		ExplorerURL   string `json:"explorer_url"`
		BlockscoutURL string `json:"blockscout_url"`
		Verification  *bool  `json:"verification"`
		Position      int    `json:"position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	chain := &config.ChainConfig{
		ID:            chainID,
		Name:          req.Name,
		RPCURL:        req.RPCURL,
		ExplorerURL:   req.ExplorerURL,
		BlockscoutURL: req.BlockscoutURL,
		Verification:  req.Verification == nil || *req.Verification,
	}
	if err := ca.store.UpsertChain(chain, req.Position); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "保存链配置失败",
			"message": err.Error(),
		})
		return
	}

	ca.logger.Infof("链配置已保存: %s(%d)，重启后生效", chain.Name, chain.ID)
	c.JSON(http.StatusOK, gin.H{
		"message": "链配置已保存，重启后生效",
		"chainId": chainID,
	})
}

// DisableChain 停用链
func (ca *ChainAdmin) DisableChain(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的链ID"})
		return
	}

	if err := ca.store.DisableChain(chainID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "停用链失败",
			"message": err.Error(),
		})
		return
	}

	ca.logger.Infof("链 %d 已停用，重启后生效", chainID)
	c.JSON(http.StatusOK, gin.H{"message": "链已停用，重启后生效"})
}
