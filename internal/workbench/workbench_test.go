package workbench

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"testing"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/connection"
	"abiscope/internal/contract"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/validation"
	"abiscope/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenAddr = "0x1111111111111111111111111111111111111111"
	holder    = "0x2222222222222222222222222222222222222222"

	tokenABI = `[
		{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	transferSelector  = "0xa9059cbb"
	depositSelector   = "0xd0e30db0"
	balanceOfSelector = "0x70a08231"
)

func word(hexDigits string) string {
	return strings.Repeat("0", 64-len(hexDigits)) + hexDigits
}

func transferData(to string, amountHex string) string {
	return transferSelector + word(strings.TrimPrefix(strings.ToLower(to), "0x")) + word(amountHex)
}

type fakeResolver struct {
	mu          sync.Mutex
	iface       *codec.ContractInterface
	err         error
	resolves    int
	invalidated []contract.Key
	decimals    int
}

func (f *fakeResolver) Resolve(ctx context.Context, chainID uint64, address string) (*codec.ContractInterface, *models.ResolvedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.iface, &models.ResolvedAddress{Requested: address, Effective: address, Strategy: models.ProxyStrategyNone}, nil
}

func (f *fakeResolver) Invalidate(key contract.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, key)
}

func (f *fakeResolver) DecimalsOrDefault(ctx context.Context, chainID uint64, address string) int {
	if f.decimals == 0 {
		return codec.DefaultDecimals
	}
	return f.decimals
}

type fakeLookup struct {
	chains []*chains.Chain
}

func (f *fakeLookup) AvailableChains(ctx context.Context, address string) []*chains.Chain {
	return f.chains
}

type fakeHistory struct {
	records []*models.TransactionRecord
	calls   int
}

func (f *fakeHistory) Fetch(ctx context.Context, chainID uint64, address string) ([]*models.TransactionRecord, error) {
	f.calls++
	return f.records, nil
}

type fakeNames struct{}

func (fakeNames) ResolveOrKeep(ctx context.Context, input string) string {
	if input == "vitalik.eth" {
		return holder
	}
	return input
}

type fakeReader struct{}

func (fakeReader) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if common.Bytes2Hex(msg.Data[:4]) == strings.TrimPrefix(balanceOfSelector, "0x") {
		return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
	}
	return nil, errors.New("execution reverted")
}

func (fakeReader) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return make([]byte, 32), nil
}

type fakeReaders struct{}

func (fakeReaders) Reader(ctx context.Context, chainID uint64) (connection.ChainReader, error) {
	return fakeReader{}, nil
}

type recordingPublisher struct {
	events []*models.ShareLinkEvent
}

func (p *recordingPublisher) PublishShareLink(event *models.ShareLinkEvent) error {
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	wb        *Workbench
	registry  *chains.Registry
	resolver  *fakeResolver
	history   *fakeHistory
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	iface, err := codec.ParseABI([]byte(tokenABI))
	require.NoError(t, err)

	registry := chains.NewRegistry([]*chains.Chain{
		{ID: 8453, Name: "Base"},
		{ID: 10, Name: "OP Mainnet"},
		{ID: 1, Name: "Ethereum"},
	})
	resolver := &fakeResolver{iface: iface}
	hist := &fakeHistory{}
	publisher := &recordingPublisher{}

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	wb := New(Deps{
		Registry:  registry,
		Resolver:  resolver,
		Lookup:    &fakeLookup{chains: []*chains.Chain{mustChain(t, registry, 10), mustChain(t, registry, 1)}},
		History:   hist,
		Names:     fakeNames{},
		Readers:   fakeReaders{},
		Publisher: publisher,
	}, logger)

	return &fixture{wb: wb, registry: registry, resolver: resolver, history: hist, publisher: publisher}
}

func mustChain(t *testing.T, registry *chains.Registry, id uint64) *chains.Chain {
	t.Helper()
	c, err := registry.Resolve(id)
	require.NoError(t, err)
	return c
}

func loadedSession(t *testing.T, f *fixture) *Session {
	t.Helper()
	s := f.wb.NewSession()
	s.SetAddress(tokenAddr)
	available, err := s.AvailableChains(context.Background())
	require.NoError(t, err)
	require.Len(t, available, 2)
	_, err = s.LoadInterface(context.Background())
	require.NoError(t, err)
	return s
}

func TestSession_AvailableChainsSelectsFirst(t *testing.T) {
	f := newFixture(t)
	s := loadedSession(t, f)

	assert.Equal(t, uint64(10), s.Snapshot().ChainID)
	assert.Equal(t, 1, f.resolver.resolves)

	// 已加载时不重复获取
	_, err := s.LoadInterface(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.resolver.resolves)
}

func TestSession_AvailableChainsRequiresAddress(t *testing.T) {
	f := newFixture(t)
	s := f.wb.NewSession()
	s.SetAddress("vitalik")

	_, err := s.AvailableChains(context.Background())
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestSession_AvailableChainsStrictChecksum(t *testing.T) {
	f := newFixture(t)
	wrongCase := "0xD8dA6BF26964aF9D7eEd9e03E53415D37aA96045"

	s := f.wb.NewSession()
	s.SetAddress(wrongCase)
	_, err := s.AvailableChains(context.Background())
	require.NoError(t, err)

	strict := New(Deps{
		Registry:  f.registry,
		Resolver:  f.resolver,
		Validator: validation.NewValidator(logrus.New(), f.registry, true),
	}, logrus.New())
	s = strict.NewSession()
	s.SetAddress(wrongCase)
	_, err = s.AvailableChains(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidAddress)
	assert.Equal(t, true, strict.ValidationStats()["strict_mode"])
}

func TestSession_KeyChangeInvalidates(t *testing.T) {
	f := newFixture(t)
	s := loadedSession(t, f)

	_, err := s.SelectFunction(transferSelector)
	require.NoError(t, err)

	require.NoError(t, s.SelectChain(1))
	assert.Equal(t, []contract.Key{contract.NewKey(10, tokenAddr)}, f.resolver.invalidated)
	assert.Equal(t, transferSelector, s.Snapshot().Function)

	_, err = s.LoadInterface(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.resolver.resolves)

	s.SetAddress(holder)
	assert.Equal(t, contract.NewKey(1, tokenAddr), f.resolver.invalidated[1])
	snap := s.Snapshot()
	assert.Empty(t, snap.Function)
	assert.Empty(t, snap.Inputs)

	// 同一地址（大小写不同）不视为变化
	s.SetAddress(strings.ToUpper(holder[:2]) + holder[2:])
	assert.Len(t, f.resolver.invalidated, 2)

	assert.Error(t, s.SelectChain(999))
}

func TestSession_EncodeAndShare(t *testing.T) {
	f := newFixture(t)
	s := loadedSession(t, f)

	_, err := s.EncodedData()
	assert.ErrorIs(t, err, ErrNoFunction)

	fn, err := s.SelectFunction(transferSelector)
	require.NoError(t, err)
	assert.Equal(t, "transfer", fn.Name)
	assert.Equal(t, []string{"", ""}, s.Snapshot().Inputs)

	require.NoError(t, s.SetInput(0, "vitalik.eth"))
	resolved, err := s.ResolveNameInput(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, holder, resolved)

	require.NoError(t, s.SetInput(1, "0.000000000000001"))
	scaled, err := s.ScaleInputByDecimals(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "1000", scaled)

	data, err := s.EncodedData()
	require.NoError(t, err)
	assert.Equal(t, transferData(holder, "3e8"), data)

	shareURL, err := s.ShareLink("https://abiscope.example/")
	require.NoError(t, err)

	parsed, err := url.Parse(shareURL)
	require.NoError(t, err)
	assert.Equal(t, "/tx", parsed.Path)
	assert.Equal(t, "10", parsed.Query().Get("chainId"))
	assert.Equal(t, tokenAddr, parsed.Query().Get("to"))
	assert.Equal(t, "0", parsed.Query().Get("value"))
	assert.Equal(t, data, parsed.Query().Get("data"))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "transfer(address,uint256)", f.publisher.events[0].Function)
	assert.Equal(t, shareURL, f.publisher.events[0].URL)
}

func TestSession_ScaleFailureKeepsInput(t *testing.T) {
	f := newFixture(t)
	s := loadedSession(t, f)

	_, err := s.SelectFunction(transferSelector)
	require.NoError(t, err)
	require.NoError(t, s.SetInput(1, "abc"))

	_, err = s.ScaleInput(1, 18)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidInput))
	assert.Equal(t, "abc", s.Snapshot().Inputs[1])

	_, err = s.ScaleInput(5, 18)
	assert.ErrorIs(t, err, ErrInputIndex)

	s.SetValue("1.5")
	v, err := s.ScaleValue()
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v)

	s.SetValue("0.0000000000000000001")
	_, err = s.ScaleValue()
	assert.ErrorIs(t, err, codec.ErrNonIntegerResult)
	assert.Equal(t, "0.0000000000000000001", s.Snapshot().Value)
}

func TestSession_ViewFunctionReadNotEncode(t *testing.T) {
	f := newFixture(t)
	s := loadedSession(t, f)

	_, err := s.SelectFunction(balanceOfSelector)
	require.NoError(t, err)
	require.NoError(t, s.SetInput(0, holder))

	_, err = s.EncodedData()
	assert.ErrorIs(t, err, codec.ErrReadOnlyFunction)

	_, err = s.ShareLink("https://abiscope.example")
	assert.Error(t, err)
	assert.Empty(t, f.publisher.events)

	outputs, err := s.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "42", outputs[0].Value)
}

func TestSession_TransactionsFilterAndApply(t *testing.T) {
	f := newFixture(t)
	f.history.records = []*models.TransactionRecord{
		{Hash: txHash(1), MethodID: transferSelector, Input: transferData(holder, "3e8"), Value: "0"},
		{Hash: txHash(2), MethodID: depositSelector, Input: depositSelector, Value: "5000"},
		{Hash: txHash(3), MethodID: "0xdeadbeef", Input: "0xdeadbeef", Value: "0"},
		{Hash: "0x04", MethodID: transferSelector, Input: transferData(holder, "1"), Value: "0"},
		{Hash: txHash(5), MethodID: transferSelector, Input: "not hex", Value: "0"},
	}
	s := loadedSession(t, f)

	// 哈希或调用数据格式异常的记录被丢弃
	all, err := s.Transactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "transfer(address,uint256)", all[0].FunctionName)

	_, err = s.SelectFunction(transferSelector)
	require.NoError(t, err)
	filtered, err := s.Transactions(context.Background())
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, txHash(1), filtered[0].Hash)
	assert.Equal(t, 1, f.history.calls)

	// view函数不过滤
	_, err = s.SelectFunction(balanceOfSelector)
	require.NoError(t, err)
	viewed, err := s.Transactions(context.Background())
	require.NoError(t, err)
	assert.Len(t, viewed, 3)

	fn, err := s.ApplyTransaction(f.history.records[0])
	require.NoError(t, err)
	assert.Equal(t, "transfer", fn.Name)
	assert.Equal(t, []string{holder, "1000"}, s.Snapshot().Inputs)
	assert.Empty(t, s.Snapshot().Value)

	fn, err = s.ApplyTransaction(f.history.records[1])
	require.NoError(t, err)
	assert.True(t, fn.IsPayable())
	assert.Equal(t, "5000", s.Snapshot().Value)

	_, err = s.ApplyTransaction(f.history.records[2])
	assert.ErrorIs(t, err, codec.ErrNoMatchingFunction)
	assert.Equal(t, depositSelector, s.Snapshot().Function)

	_, err = s.ApplyTransaction(f.history.records[3])
	assert.ErrorIs(t, err, validation.ErrInvalidHash)
	assert.Equal(t, depositSelector, s.Snapshot().Function)
}

func txHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func TestWorkbench_Inspect(t *testing.T) {
	f := newFixture(t)

	values := url.Values{}
	values.Set("chainId", "8453")
	values.Set("to", tokenAddr)
	values.Set("value", "1500000000000000000")
	values.Set("data", transferData(holder, "3e8"))

	inspection, err := f.wb.Inspect(context.Background(), values)
	require.NoError(t, err)
	assert.Equal(t, "1.5", inspection.Parsed.ValueFormatted)
	require.NotNil(t, inspection.Decoded)
	assert.Equal(t, "transfer", inspection.Decoded.Function.Name)
	assert.Equal(t, []string{holder, "1000"}, inspection.Decoded.Values())

	values.Set("data", "0xdeadbeef")
	inspection, err = f.wb.Inspect(context.Background(), values)
	require.NoError(t, err)
	assert.Nil(t, inspection.Decoded)
	assert.NotEmpty(t, inspection.DecodeError)

	f.resolver.err = apperrors.New(apperrors.ErrContractNotFound)
	inspection, err = f.wb.Inspect(context.Background(), values)
	require.NoError(t, err)
	assert.Contains(t, inspection.DecodeError, "CONTRACT_NOT_FOUND")

	values.Set("chainId", "999")
	_, err = f.wb.Inspect(context.Background(), values)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedChain)

	values.Del("to")
	_, err = f.wb.Inspect(context.Background(), values)
	assert.ErrorIs(t, err, apperrors.ErrMissingParameter)
}
