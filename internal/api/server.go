package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/config"
	"abiscope/internal/connection"
	"abiscope/internal/contract"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/metrics"
	"abiscope/internal/proxy"
	"abiscope/internal/search"
	"abiscope/internal/workbench"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContractSearcher 合约搜索
type ContractSearcher interface {
	SearchReport(ctx context.Context, query string, ranked bool) (*search.Report, error)
}

// NodeStats RPC连接统计
type NodeStats interface {
	GetStats() []connection.NodeStats
}

// Deps 服务依赖，可选项为空时对应路由返回503
type Deps struct {
	Registry    *chains.Registry
	Workbench   *workbench.Workbench
	Resolver    workbench.InterfaceResolver
	Lookup      workbench.ChainLookup
	Searcher    ContractSearcher
	Explorer    *proxy.ExplorerProxy
	RateLimiter *proxy.RateLimiter
	Nodes       NodeStats
	ChainAdmin  *ChainAdmin
}

// Server API服务器
type Server struct {
	deps         Deps
	config       *config.ServerConfig
	logger       *logrus.Logger
	logManager   *LogManager
	errorHandler *apperrors.ErrorHandler
	server       *http.Server
	startedAt    time.Time
	mu           sync.Mutex
}

// NewServer 创建API服务器
func NewServer(deps Deps, cfg *config.ServerConfig, logger *logrus.Logger) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	errorHandler := apperrors.NewErrorHandler(logger)
	errorHandler.AddCallback(func(err *apperrors.AppError) {
		metrics.RecordError(err.Type.String(), err.Component)
	})

	return &Server{
		deps:         deps,
		config:       cfg,
		logger:       logger,
		logManager:   logManager,
		errorHandler: errorHandler,
		startedAt:    time.Now(),
	}
}

// Router 构建路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(cors())
	router.Use(metrics.GinMiddleware())
	router.Use(s.accessLog())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务停止
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在 %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止接受新请求并等待进行中的请求完成
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	explorer := router.Group("/api/etherscan")
	if s.deps.RateLimiter != nil {
		explorer.Use(s.deps.RateLimiter.Middleware())
	}
	explorer.GET("", s.explorerProxy)
	router.GET("/api/search-contracts", s.searchContracts)

	router.GET("/tx", s.inspectLink)

	api := router.Group("/api/v1")
	{
		// 链
		api.GET("/chains", s.listChains)
		api.GET("/chains/verified", s.verifiedChains)

		// 合约接口与编解码
		api.GET("/abi/:chainId/:address", s.getABI)
		api.POST("/encode", s.encodeCall)
		api.POST("/decode", s.decodeCall)
		api.POST("/read", s.readCall)
		api.POST("/scale", s.scaleValue)

		// 历史交易与分享链接
		api.GET("/transactions", s.listTransactions)
		api.POST("/links", s.createLink)

		// 运维
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
		api.GET("/nodes", s.getNodes)
		api.GET("/errors", s.getErrors)
		api.DELETE("/errors", s.clearErrors)
	}

	if s.deps.ChainAdmin != nil {
		admin := router.Group("/api/v1/admin")
		admin.GET("/chains", s.deps.ChainAdmin.ListChains)
		admin.PUT("/chains/:chainId", s.deps.ChainAdmin.UpsertChain)
		admin.DELETE("/chains/:chainId", s.deps.ChainAdmin.DisableChain)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"service":   "abiscope-api",
		"chains":    len(s.deps.Registry.List()),
	}
	if s.deps.Workbench != nil {
		body["validation"] = s.deps.Workbench.ValidationStats()
	}
	c.JSON(http.StatusOK, body)
}

// fail 渲染错误响应，只影响出错的请求
func (s *Server) fail(c *gin.Context, err error, component string) {
	resp := s.errorHandler.Handle(err, component)
	c.AbortWithStatusJSON(resp.Status, gin.H{
		"error":      resp,
		"request_id": c.GetString(requestIDKey),
	})
}

func (s *Server) unavailable(c *gin.Context, feature string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": gin.H{"code": "FEATURE_UNAVAILABLE", "message": feature + " 未启用"},
	})
}

// getLogs 分页获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", 20)

	logs, total := s.logManager.Page(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// getNodes RPC连接状态
func (s *Server) getNodes(c *gin.Context) {
	if s.deps.Nodes == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": []connection.NodeStats{}, "total": 0})
		return
	}

	nodes := s.deps.Nodes.GetStats()
	if nodes == nil {
		nodes = []connection.NodeStats{}
	}
	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// getErrors 错误统计
func (s *Server) getErrors(c *gin.Context) {
	stats := s.errorHandler.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"total":        stats.TotalErrors,
		"by_type":      stats.ErrorsByType,
		"by_component": stats.ErrorsByComponent,
		"last_hour":    stats.GetErrorRate(time.Hour),
	})
}

func (s *Server) clearErrors(c *gin.Context) {
	s.errorHandler.ClearStats()
	c.JSON(http.StatusOK, gin.H{"message": "错误统计已清空"})
}

// listChains 支持的链
func (s *Server) listChains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": s.deps.Registry.List()})
}

// verifiedChains 地址已验证的链；查询失败时返回完整列表
func (s *Server) verifiedChains(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		s.fail(c, apperrors.New(apperrors.ErrMissingParameter).WithContext("param", "address"), "sourcify")
		return
	}
	if _, err := contract.ParseAddress(address); err != nil {
		s.fail(c, err, "sourcify")
		return
	}

	available := s.deps.Registry.List()
	if s.deps.Lookup != nil {
		available = s.deps.Lookup.AvailableChains(c.Request.Context(), address)
	}
	c.JSON(http.StatusOK, gin.H{"address": address, "chains": available})
}

// scaleRequest 数值换算请求
type scaleRequest struct {
	Value     string  `json:"value" binding:"required"`
	Magnitude *int    `json:"magnitude"`
	ChainID   *uint64 `json:"chainId"`
	Address   string  `json:"address"`
}

// scaleValue 未指定数量级时按合约decimals换算，无合约时按18位
func (s *Server) scaleValue(c *gin.Context) {
	var req scaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperrors.Invalid("INVALID_REQUEST", "请求参数错误: %v", err), "codec")
		return
	}

	magnitude := codec.DefaultDecimals
	switch {
	case req.Magnitude != nil:
		magnitude = *req.Magnitude
	case req.ChainID != nil && req.Address != "" && s.deps.Resolver != nil:
		magnitude = s.deps.Resolver.DecimalsOrDefault(c.Request.Context(), *req.ChainID, req.Address)
	}

	scaled, err := codec.Scale(req.Value, magnitude)
	if err != nil {
		s.fail(c, err, "codec")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"value":     req.Value,
		"magnitude": magnitude,
		"scaled":    scaled,
	})
}
