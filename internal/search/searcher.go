package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"abiscope/internal/chains"
	"abiscope/internal/config"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/metrics"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/iter"
)

const unknownName = "Unknown"

// blockscoutSearchResponse /api/v2/search 响应
type blockscoutSearchResponse struct {
	Items []struct {
		Address  string `json:"address"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Type     string `json:"type"`
		Verified bool   `json:"is_smart_contract_verified"`
	} `json:"items"`
}

// countersResponse /api/v2/addresses/{address}/counters 响应，数值为字符串
type countersResponse struct {
	TransactionsCount string `json:"transactions_count"`
}

// Searcher 多链合约搜索
type Searcher struct {
	registry        *chains.Registry
	client          *http.Client
	timeout         time.Duration
	countersTimeout time.Duration
	minQueryLength  int
	logger          *logrus.Logger
}

// NewSearcher 创建搜索器
func NewSearcher(registry *chains.Registry, cfg *config.SearchConfig, logger *logrus.Logger) *Searcher {
	minLength := cfg.MinQueryLength
	if minLength <= 0 {
		minLength = 2
	}
	return &Searcher{
		registry:        registry,
		client:          &http.Client{},
		timeout:         config.Duration(cfg.Timeout, 2*time.Second),
		countersTimeout: config.Duration(cfg.CountersTimeout, 10*time.Second),
		minQueryLength:  minLength,
		logger:          logger,
	}
}

// Report 搜索结果；部分链失败时附带 PARTIAL_FAILURE 警告，结果仍然可用
type Report struct {
	Results []models.ContractSearchResult `json:"results"`
	Warning *apperrors.AppError           `json:"warning,omitempty"`
}

// chainOutcome 单条链的搜索结果
type chainOutcome struct {
	items  []models.ContractSearchResult
	failed bool
}

// Search 并发查询所有链，单条链失败或超时只会缺少该链的结果
func (s *Searcher) Search(ctx context.Context, query string) ([]models.ContractSearchResult, error) {
	report, err := s.SearchReport(ctx, query, false)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}

// SearchReport 同 Search，并报告失败的链；ranked为真时补充交易数量后按交易数量降序排列
func (s *Searcher) SearchReport(ctx context.Context, query string, ranked bool) (*Report, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < s.minQueryLength {
		return &Report{Results: []models.ContractSearchResult{}}, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	list := s.registry.List()
	outcomes := iter.Map(list, func(chain **chains.Chain) chainOutcome {
		return s.searchChain(searchCtx, *chain, query)
	})

	// 调用方取消（而不是超时）时整个请求作废
	if ctx.Err() == context.Canceled {
		return nil, apperrors.Wrap(apperrors.ErrRequestAborted, ctx.Err())
	}

	report := &Report{Results: make([]models.ContractSearchResult, 0)}
	var failed []uint64
	for i, outcome := range outcomes {
		if outcome.failed {
			failed = append(failed, list[i].ID)
			continue
		}
		report.Results = append(report.Results, outcome.items...)
	}
	if len(failed) > 0 {
		report.Warning = apperrors.New(apperrors.ErrPartialFailure).
			WithComponent("search").
			WithContext("failed_chains", failed)
	}

	if ranked && len(report.Results) > 0 {
		if err := s.rank(ctx, report.Results); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *Searcher) searchChain(ctx context.Context, chain *chains.Chain, query string) chainOutcome {
	if chain.BlockscoutURL == "" {
		return chainOutcome{}
	}

	endpoint := fmt.Sprintf("%s/api/v2/search?q=%s", strings.TrimRight(chain.BlockscoutURL, "/"), url.QueryEscape(query))

	var body blockscoutSearchResponse
	if err := s.getJSON(ctx, endpoint, &body); err != nil {
		result := "error"
		if ctx.Err() != nil {
			result = "timeout"
		}
		metrics.SearchChain(chain.ID, result)
		s.logger.WithFields(logrus.Fields{
			"chain_id": chain.ID,
			"query":    query,
		}).Warnf("链搜索失败: %v", err)
		return chainOutcome{failed: true}
	}
	metrics.SearchChain(chain.ID, "ok")

	var results []models.ContractSearchResult
	for _, item := range body.Items {
		if item.Type != "token" && item.Type != "contract" {
			continue
		}
		name := item.Name
		if name == "" {
			name = item.Symbol
		}
		if name == "" {
			name = unknownName
		}
		results = append(results, models.ContractSearchResult{
			Address: item.Address,
			Name:    name,
			ChainID: chain.ID,
		})
	}
	return chainOutcome{items: results}
}

// rank 补充交易数量并按交易数量降序排列
func (s *Searcher) rank(ctx context.Context, results []models.ContractSearchResult) error {
	countersCtx, cancel := context.WithTimeout(ctx, s.countersTimeout)
	defer cancel()

	counts := iter.Map(results, func(result *models.ContractSearchResult) *uint64 {
		return s.transactionCount(countersCtx, result.ChainID, result.Address)
	})

	if ctx.Err() == context.Canceled {
		return apperrors.Wrap(apperrors.ErrRequestAborted, ctx.Err())
	}

	for i := range results {
		results[i].TransactionCount = counts[i]
	}

	sort.SliceStable(results, func(i, j int) bool {
		return countOf(results[i]) > countOf(results[j])
	})
	return nil
}

func countOf(r models.ContractSearchResult) uint64 {
	if r.TransactionCount == nil {
		return 0
	}
	return *r.TransactionCount
}

func (s *Searcher) transactionCount(ctx context.Context, chainID uint64, address string) *uint64 {
	chain, err := s.registry.Resolve(chainID)
	if err != nil || chain.BlockscoutURL == "" {
		return nil
	}

	endpoint := fmt.Sprintf("%s/api/v2/addresses/%s/counters", strings.TrimRight(chain.BlockscoutURL, "/"), address)

	var body countersResponse
	if err := s.getJSON(ctx, endpoint, &body); err != nil {
		s.logger.Debugf("获取 %s 交易数量失败: %v", address, err)
		return nil
	}

	count, err := strconv.ParseUint(body.TransactionsCount, 10, 64)
	if err != nil {
		return nil
	}
	return &count
}

func (s *Searcher) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObserveUpstream("blockscout", start)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("状态码 %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
