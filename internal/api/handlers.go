package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"abiscope/internal/codec"
	"abiscope/internal/contract"
	"abiscope/internal/ens"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/history"
	"abiscope/internal/workbench"
	"abiscope/pkg/models"

	"github.com/gin-gonic/gin"
)

// PartialFailureHeader 部分链搜索失败时列出失败的链ID
const PartialFailureHeader = "X-Partial-Failure"

// callRequest 编码、只读调用与分享链接共用的请求体
type callRequest struct {
	ChainID  uint64   `json:"chainId" binding:"required"`
	Address  string   `json:"address" binding:"required"`
	Function string   `json:"function" binding:"required"` // 选择器、完整签名或函数名
	Args     []string `json:"args"`
	Value    string   `json:"value"`
}

type decodeRequest struct {
	ChainID uint64 `json:"chainId" binding:"required"`
	Address string `json:"address" binding:"required"`
	Data    string `json:"data" binding:"required"`
}

// transactionRow 历史交易及其显示颜色
type transactionRow struct {
	*models.TransactionRecord
	Color string `json:"color"`
}

func badRequest(err error) error {
	return apperrors.Invalid("INVALID_REQUEST", "请求参数错误: %v", err)
}

// session 为单个请求创建工作台会话
func (s *Server) session(chainID uint64, address string) (*workbench.Session, error) {
	if _, err := contract.ParseAddress(address); err != nil {
		return nil, err
	}
	sess := s.deps.Workbench.NewSession()
	sess.SetAddress(address)
	if err := sess.SelectChain(chainID); err != nil {
		return nil, err
	}
	return sess, nil
}

// prepareCall 加载接口、选中函数并填入参数；地址参数中的ENS名称会被解析
func (s *Server) prepareCall(ctx context.Context, req *callRequest) (*workbench.Session, *codec.Function, error) {
	sess, err := s.session(req.ChainID, req.Address)
	if err != nil {
		return nil, nil, err
	}

	iface, err := sess.LoadInterface(ctx)
	if err != nil {
		return nil, nil, err
	}

	selector := req.Function
	if !strings.HasPrefix(selector, "0x") {
		fn, ok := iface.FunctionByName(req.Function)
		if !ok {
			return nil, nil, apperrors.New(codec.ErrNoMatchingFunction).WithContext("function", req.Function)
		}
		selector = fn.Selector
	}

	fn, err := sess.SelectFunction(selector)
	if err != nil {
		return nil, nil, err
	}
	if len(req.Args) != len(fn.Inputs) {
		return nil, nil, apperrors.New(codec.ErrArgumentCount).
			WithContext("function", fn.Signature).
			WithContext("expected", len(fn.Inputs)).
			WithContext("actual", len(req.Args))
	}

	for i, arg := range req.Args {
		if err := sess.SetInput(i, arg); err != nil {
			return nil, nil, err
		}
		if fn.Inputs[i].Kind == codec.KindAddress && ens.IsName(arg) {
			if _, err := sess.ResolveNameInput(ctx, i); err != nil {
				return nil, nil, err
			}
		}
	}
	sess.SetValue(req.Value)

	return sess, fn, nil
}

// explorerProxy 区块浏览器代理
func (s *Server) explorerProxy(c *gin.Context) {
	if s.deps.Explorer == nil {
		s.unavailable(c, "区块浏览器代理")
		return
	}
	s.deps.Explorer.Handle(c)
}

// searchContracts 多链合约搜索，ranked=true 时按交易数排序
func (s *Server) searchContracts(c *gin.Context) {
	if s.deps.Searcher == nil {
		c.JSON(http.StatusOK, []models.ContractSearchResult{})
		return
	}

	query := c.Query("q")
	ranked, _ := strconv.ParseBool(c.Query("ranked"))

	report, err := s.deps.Searcher.SearchReport(c.Request.Context(), query, ranked)
	if err != nil {
		s.fail(c, err, "search")
		return
	}
	if report.Warning != nil {
		s.errorHandler.Handle(report.Warning, "search")
		c.Header(PartialFailureHeader, chainList(report.Warning.Context["failed_chains"]))
	}
	c.JSON(http.StatusOK, report.Results)
}

func chainList(v interface{}) string {
	ids, _ := v.([]uint64)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return strings.Join(parts, ",")
}

// inspectLink 检查分享链接：参数校验、金额格式化与调用数据解码
func (s *Server) inspectLink(c *gin.Context) {
	inspection, err := s.deps.Workbench.Inspect(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		s.fail(c, err, "txlink")
		return
	}
	c.JSON(http.StatusOK, inspection)
}

// getABI 解析合约接口（跟随代理）
func (s *Server) getABI(c *gin.Context) {
	chain, err := s.deps.Registry.ResolveString(c.Param("chainId"))
	if err != nil {
		s.fail(c, err, "resolver")
		return
	}

	iface, resolved, err := s.deps.Resolver.Resolve(c.Request.Context(), chain.ID, c.Param("address"))
	if err != nil {
		s.fail(c, err, "resolver")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chainId":   chain.ID,
		"address":   resolved,
		"interface": iface,
	})
}

// encodeCall 编码调用数据；view/pure函数被拒绝
func (s *Server) encodeCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err), "codec")
		return
	}

	sess, fn, err := s.prepareCall(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err, "codec")
		return
	}

	data, err := sess.EncodedData()
	if err != nil {
		s.fail(c, err, "codec")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"function": fn.Signature,
		"selector": fn.Selector,
		"args":     sess.Snapshot().Inputs,
		"data":     data,
	})
}

// decodeCall 按合约接口解码调用数据
func (s *Server) decodeCall(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err), "codec")
		return
	}

	sess, err := s.session(req.ChainID, req.Address)
	if err != nil {
		s.fail(c, err, "codec")
		return
	}
	iface, err := sess.LoadInterface(c.Request.Context())
	if err != nil {
		s.fail(c, err, "codec")
		return
	}

	decoded, err := codec.DecodeHex(iface, req.Data)
	if err != nil {
		s.fail(c, err, "codec")
		return
	}
	c.JSON(http.StatusOK, decoded)
}

// readCall 对view/pure函数执行eth_call
func (s *Server) readCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err), "reader")
		return
	}

	sess, fn, err := s.prepareCall(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err, "reader")
		return
	}

	outputs, err := sess.Read(c.Request.Context())
	if err != nil {
		s.fail(c, err, "reader")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"function": fn.Signature,
		"outputs":  outputs,
	})
}

// listTransactions 最近交易；指定function时按选择器过滤
func (s *Server) listTransactions(c *gin.Context) {
	chain, err := s.deps.Registry.ResolveString(c.Query("chainId"))
	if err != nil {
		s.fail(c, err, "history")
		return
	}

	sess, err := s.session(chain.ID, c.Query("address"))
	if err != nil {
		s.fail(c, err, "history")
		return
	}

	ctx := c.Request.Context()
	if function := c.Query("function"); function != "" {
		if _, err := sess.LoadInterface(ctx); err != nil {
			s.fail(c, err, "history")
			return
		}
		if _, err := sess.SelectFunction(function); err != nil {
			s.fail(c, err, "history")
			return
		}
	} else if _, err := sess.LoadInterface(ctx); err != nil {
		// 没有接口时只是缺少函数名标注
		s.logger.WithField("address", c.Query("address")).Debugf("历史交易未能加载合约接口: %v", err)
	}

	records, err := sess.Transactions(ctx)
	if err != nil {
		s.fail(c, err, "history")
		return
	}

	rows := make([]transactionRow, len(records))
	for i, record := range records {
		rows[i] = transactionRow{TransactionRecord: record, Color: history.SelectorColor(record.MethodID)}
	}
	c.JSON(http.StatusOK, gin.H{
		"chainId":      chain.ID,
		"transactions": rows,
		"total":        len(rows),
	})
}

// createLink 编码调用并生成分享链接
func (s *Server) createLink(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err), "txlink")
		return
	}

	sess, fn, err := s.prepareCall(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err, "txlink")
		return
	}

	url, err := sess.ShareLink(s.config.BaseURL)
	if err != nil {
		s.fail(c, err, "txlink")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"url":      url,
		"function": fn.Signature,
	})
}
