package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/config"
	"abiscope/internal/contract"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/search"
	"abiscope/internal/workbench"
	"abiscope/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenAddr = "0x1111111111111111111111111111111111111111"
	holder    = "0x2222222222222222222222222222222222222222"
	hash1     = "0x00000000000000000000000000000000000000000000000000000000000000a1"
	hash2     = "0x00000000000000000000000000000000000000000000000000000000000000a2"

	tokenABI = `[
		{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	transferSelector = "0xa9059cbb"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func transferData() string {
	return transferSelector +
		strings.Repeat("0", 24) + strings.TrimPrefix(holder, "0x") +
		strings.Repeat("0", 61) + "3e8"
}

type fakeResolver struct {
	iface *codec.ContractInterface
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, chainID uint64, address string) (*codec.ContractInterface, *models.ResolvedAddress, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.iface, &models.ResolvedAddress{Requested: address, Effective: address, Strategy: models.ProxyStrategyNone}, nil
}

func (f *fakeResolver) Invalidate(key contract.Key) {}

func (f *fakeResolver) DecimalsOrDefault(ctx context.Context, chainID uint64, address string) int {
	return 6
}

type fakeHistory struct {
	records []*models.TransactionRecord
}

func (f *fakeHistory) Fetch(ctx context.Context, chainID uint64, address string) ([]*models.TransactionRecord, error) {
	return f.records, nil
}

type fakeSearcher struct {
	rankedCalls int
}

func (f *fakeSearcher) SearchReport(ctx context.Context, query string, ranked bool) (*search.Report, error) {
	if ranked {
		f.rankedCalls++
	}
	switch query {
	case "fail":
		return nil, apperrors.New(apperrors.ErrRequestAborted)
	case "partial":
		return &search.Report{
			Results: []models.ContractSearchResult{},
			Warning: apperrors.New(apperrors.ErrPartialFailure).WithContext("failed_chains", []uint64{10, 137}),
		}, nil
	}
	return &search.Report{
		Results: []models.ContractSearchResult{{Address: tokenAddr, Name: "USD Coin", ChainID: 8453}},
	}, nil
}

type fakeChainStore struct {
	chains   []*config.ChainConfig
	upserted []*config.ChainConfig
}

func (f *fakeChainStore) LoadChains() ([]*config.ChainConfig, error) {
	return f.chains, nil
}

func (f *fakeChainStore) UpsertChain(chain *config.ChainConfig, position int) error {
	f.upserted = append(f.upserted, chain)
	return nil
}

func (f *fakeChainStore) DisableChain(chainID uint64) error {
	return errors.New("链不存在")
}

type fixture struct {
	router   *gin.Engine
	resolver *fakeResolver
	searcher *fakeSearcher
	store    *fakeChainStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	iface, err := codec.ParseABI([]byte(tokenABI))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	registry := chains.NewRegistry([]*chains.Chain{
		{ID: 8453, Name: "Base"},
		{ID: 10, Name: "OP Mainnet"},
	})
	resolver := &fakeResolver{iface: iface}
	hist := &fakeHistory{records: []*models.TransactionRecord{
		{Hash: hash1, MethodID: transferSelector, Input: transferData(), Value: "0"},
		{Hash: hash2, MethodID: "0xdeadbeef", Input: "0xdeadbeef", Value: "0"},
	}}
	searcher := &fakeSearcher{}
	store := &fakeChainStore{chains: []*config.ChainConfig{{ID: 8453, Name: "Base", RPCURL: "https://rpc"}}}

	wb := workbench.New(workbench.Deps{
		Registry: registry,
		Resolver: resolver,
		History:  hist,
	}, logger)

	server := NewServer(Deps{
		Registry:   registry,
		Workbench:  wb,
		Resolver:   resolver,
		Searcher:   searcher,
		ChainAdmin: NewChainAdmin(store, logger),
	}, &config.ServerConfig{BaseURL: "http://abiscope.test"}, logger)

	return &fixture{router: server.Router(), resolver: resolver, searcher: searcher, store: store}
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "响应中没有error字段: %v", body)
	code, _ := e["code"].(string)
	return code
}

func TestServer_HealthAndRequestID(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	validation, ok := body["validation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, validation["strict_mode"])
	assert.EqualValues(t, 5, validation["registered_rules"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	rec, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Chains(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["chains"], 2)

	// 没有验证查询时返回完整列表
	rec, body = f.do(t, http.MethodGet, "/api/v1/chains/verified?address="+tokenAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["chains"], 2)

	rec, body = f.do(t, http.MethodGet, "/api/v1/chains/verified?address=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ADDRESS", errorCode(t, body))
}

func TestServer_GetABI(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/abi/8453/"+tokenAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	iface := body["interface"].(map[string]interface{})
	assert.Len(t, iface["functions"], 2)

	rec, body = f.do(t, http.MethodGet, "/api/v1/abi/999/"+tokenAddr, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_CHAIN", errorCode(t, body))

	f.resolver.err = apperrors.New(apperrors.ErrContractNotFound)
	rec, body = f.do(t, http.MethodGet, "/api/v1/abi/8453/"+tokenAddr, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CONTRACT_NOT_FOUND", errorCode(t, body))
	assert.NotEmpty(t, body["request_id"])
}

func TestServer_EncodeDecode(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/encode", gin.H{
		"chainId":  8453,
		"address":  tokenAddr,
		"function": "transfer",
		"args":     []string{holder, "1000"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, transferData(), body["data"])
	assert.Equal(t, transferSelector, body["selector"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/encode", gin.H{
		"chainId":  8453,
		"address":  tokenAddr,
		"function": "balanceOf",
		"args":     []string{holder},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "READ_ONLY_FUNCTION", errorCode(t, body))

	rec, body = f.do(t, http.MethodPost, "/api/v1/encode", gin.H{
		"chainId":  8453,
		"address":  tokenAddr,
		"function": transferSelector,
		"args":     []string{holder},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ARGUMENT_COUNT_MISMATCH", errorCode(t, body))

	rec, body = f.do(t, http.MethodPost, "/api/v1/decode", gin.H{
		"chainId": 8453,
		"address": tokenAddr,
		"data":    transferData(),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	args := body["args"].([]interface{})
	require.Len(t, args, 2)
	assert.Equal(t, "1000", args[1].(map[string]interface{})["value"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/decode", gin.H{
		"chainId": 8453,
		"address": tokenAddr,
		"data":    "0xdeadbeef",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_MATCHING_FUNCTION", errorCode(t, body))
}

func TestServer_Scale(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/scale", gin.H{"value": "1.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1500000000000000000", body["scaled"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/scale", gin.H{"value": "1.5", "chainId": 8453, "address": tokenAddr})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1500000", body["scaled"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/scale", gin.H{"value": "1.5", "magnitude": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_MAGNITUDE", errorCode(t, body))

	rec, _ = f.do(t, http.MethodPost, "/api/v1/scale", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LinkRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/v1/links", gin.H{
		"chainId":  8453,
		"address":  tokenAddr,
		"function": "transfer",
		"args":     []string{holder, "1000"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	shareURL := body["url"].(string)
	require.True(t, strings.HasPrefix(shareURL, "http://abiscope.test/tx?"))

	parsed, err := url.Parse(shareURL)
	require.NoError(t, err)
	assert.Equal(t, "0", parsed.Query().Get("value"))

	rec, body = f.do(t, http.MethodGet, "/tx?"+parsed.RawQuery, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decoded := body["decoded"].(map[string]interface{})
	assert.Equal(t, "transfer", decoded["function"].(map[string]interface{})["name"])

	rec, body = f.do(t, http.MethodGet, "/tx?chainId=8453&to="+tokenAddr+"&value=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_PARAMETER", errorCode(t, body))

	rec, body = f.do(t, http.MethodGet, "/tx?chainId=8453&to="+tokenAddr+"&value=0&data=0xzz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_HEX", errorCode(t, body))
}

func TestServer_Transactions(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/transactions?chainId=8453&address="+tokenAddr, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/transactions?chainId=8453&address="+tokenAddr+"&function="+transferSelector, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := body["transactions"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, hash1, row["hash"])
	assert.Equal(t, "transfer(address,uint256)", row["function_name"])
	assert.True(t, strings.HasPrefix(row["color"].(string), "rgb("))

	rec, _ = f.do(t, http.MethodGet, "/api/v1/transactions?chainId=abc&address="+tokenAddr, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Search(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-contracts?q=usdc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []models.ContractSearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "USD Coin", results[0].Name)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-contracts?q=usdc&ranked=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.searcher.rankedCalls)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-contracts?q=fail", nil))
	assert.Equal(t, 499, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-contracts?q=usdc", nil))
	assert.Empty(t, rec.Header().Get(PartialFailureHeader))

	// 部分链失败：结果照常返回，失败的链写入响应头并计入错误统计
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-contracts?q=partial", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10,137", rec.Header().Get(PartialFailureHeader))
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, stats := f.do(t, http.MethodGet, "/api/v1/errors", nil)
	byType, ok := stats["by_type"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, byType["PartialFailure"])

	// 未配置代理
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/etherscan?module=account", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_ChainAdmin(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/admin/chains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := body["chains"].([]interface{})
	require.Len(t, listed, 1)
	assert.Equal(t, true, listed[0].(map[string]interface{})["has_rpc"])
	assert.NotContains(t, rec.Body.String(), "https://rpc")

	rec, _ = f.do(t, http.MethodPut, "/api/v1/admin/chains/10", gin.H{"name": "OP Mainnet", "rpc_url": "https://mainnet.optimism.io"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.store.upserted, 1)
	assert.Equal(t, uint64(10), f.store.upserted[0].ID)
	assert.True(t, f.store.upserted[0].Verification)

	rec, _ = f.do(t, http.MethodPut, "/api/v1/admin/chains/abc", gin.H{"name": "x", "rpc_url": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/admin/chains/10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_NodesAndErrors(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])

	f.resolver.err = apperrors.New(apperrors.ErrContractNotFound)
	f.do(t, http.MethodGet, "/api/v1/abi/8453/"+tokenAddr, nil)

	rec, body = f.do(t, http.MethodGet, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, _ = f.do(t, http.MethodDelete, "/api/v1/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, body = f.do(t, http.MethodGet, "/api/v1/errors", nil)
	assert.EqualValues(t, 0, body["total"])
}

func TestLogManager_RingBuffer(t *testing.T) {
	lm := NewLogManager(2)
	logger := logrus.New()

	for _, msg := range []string{"first", "second", "third"} {
		entry := logrus.NewEntry(logger).WithField("component", "resolver")
		entry.Message = msg
		entry.Level = logrus.InfoLevel
		lm.Add(entry)
	}

	logs, total := lm.Page("", 1, 10)
	assert.Equal(t, 2, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "third", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.Equal(t, "resolver", logs[0].Component)

	logs, total = lm.Page("error", 1, 10)
	assert.Zero(t, total)
	assert.Empty(t, logs)

	lm.Clear()
	_, total = lm.Page("", 1, 10)
	assert.Zero(t, total)
}
