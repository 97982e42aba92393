package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"abiscope/internal/config"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/metrics"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// PageSize 每次获取的交易数量
	PageSize = 100
	// DisplayLimit 过滤后保留的交易数量
	DisplayLimit = 50
)

// txListResponse 区块浏览器 txlist 响应，result 出错时是字符串
type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type rawTransaction struct {
	BlockNumber  string `json:"blockNumber"`
	TimeStamp    string `json:"timeStamp"`
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	Input        string `json:"input"`
	MethodID     string `json:"methodId"`
	FunctionName string `json:"functionName"`
	IsError      string `json:"isError"`
}

// Client 区块浏览器历史交易客户端
type Client struct {
	apiURL  string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient 创建客户端
func NewClient(cfg *config.ExplorerConfig, logger *logrus.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		if cfg.Burst > 0 {
			burst = cfg.Burst
		}
	}

	return &Client{
		apiURL:  cfg.APIURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: config.Duration(cfg.Timeout, 15*time.Second)},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Fetch 获取地址最近的交易，按时间倒序，最多 PageSize 条
func (c *Client) Fetch(ctx context.Context, chainID uint64, address string) ([]*models.TransactionRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("chainid", strconv.FormatUint(chainID, 10))
	query.Set("module", "account")
	query.Set("action", "txlist")
	query.Set("address", address)
	query.Set("sort", "desc")
	query.Set("page", "1")
	query.Set("offset", strconv.Itoa(PageSize))
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveUpstream("explorer", start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithComponent("explorer").WithChainID(chainID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrUpstreamFailed).
			WithComponent("explorer").
			WithChainID(chainID).
			WithContext("status", resp.StatusCode)
	}

	var body txListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithComponent("explorer").WithChainID(chainID)
	}

	records, appErr := parseResult(body)
	if appErr != nil {
		return nil, appErr.WithChainID(chainID).WithAddress(address)
	}

	c.logger.WithFields(logrus.Fields{
		"chain_id": chainID,
		"address":  address,
		"count":    len(records),
	}).Debug("获取历史交易完成")

	if len(records) > PageSize {
		records = records[:PageSize]
	}
	return records, nil
}

// parseResult 解析结果；"No transactions found" 返回空列表
func parseResult(body txListResponse) ([]*models.TransactionRecord, *apperrors.AppError) {
	var raws []rawTransaction
	if err := json.Unmarshal(body.Result, &raws); err != nil {
		var message string
		if json.Unmarshal(body.Result, &message) == nil {
			return nil, apperrors.New(apperrors.ErrUpstreamFailed).
				WithComponent("explorer").
				WithContext("message", message)
		}
		return nil, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithComponent("explorer")
	}

	records := make([]*models.TransactionRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, raw.toRecord())
	}
	return records, nil
}

func (r rawTransaction) toRecord() *models.TransactionRecord {
	record := &models.TransactionRecord{
		Hash:         r.Hash,
		From:         r.From,
		To:           r.To,
		Value:        r.Value,
		Input:        r.Input,
		MethodID:     strings.ToLower(r.MethodID),
		FunctionName: r.FunctionName,
		IsError:      r.IsError == "1",
	}
	if record.Value == "" {
		record.Value = "0"
	}
	if record.MethodID == "" && len(r.Input) >= 10 {
		record.MethodID = strings.ToLower(r.Input[:10])
	}
	if n, err := strconv.ParseUint(r.BlockNumber, 10, 64); err == nil {
		record.BlockNumber = n
	}
	if ts, err := strconv.ParseInt(r.TimeStamp, 10, 64); err == nil {
		record.Timestamp = time.Unix(ts, 0).UTC()
	}
	return record
}
