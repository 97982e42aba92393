package workbench

import (
	"context"
	"strings"
	"sync"
	"time"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/contract"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/history"
	"abiscope/internal/txlink"
	"abiscope/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// 会话状态错误
var (
	ErrNoAddress = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"NO_ADDRESS",
		"尚未输入合约地址",
	)

	ErrNoChain = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"NO_CHAIN",
		"尚未选择链",
	)

	ErrNoInterface = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"NO_INTERFACE",
		"合约接口尚未加载",
	)

	ErrNoFunction = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"NO_FUNCTION",
		"尚未选择函数",
	)

	ErrInputIndex = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"INPUT_INDEX_OUT_OF_RANGE",
		"参数位置超出范围",
	)
)

// Session 单个编码页面的状态，每个获取结果写入各自的槽位
type Session struct {
	deps   Deps
	logger *logrus.Logger

	mu       sync.Mutex
	address  string
	chain    *chains.Chain
	iface    *codec.ContractInterface
	resolved *models.ResolvedAddress
	selected *codec.Function
	inputs   []string
	value    string
	txs      []*models.TransactionRecord
	txLoaded bool
}

// Snapshot 会话状态快照
type Snapshot struct {
	Address  string                  `json:"address"`
	ChainID  uint64                  `json:"chainId,omitempty"`
	Resolved *models.ResolvedAddress `json:"resolved,omitempty"`
	Function string                  `json:"function,omitempty"`
	Inputs   []string                `json:"inputs"`
	Value    string                  `json:"value"`
}

// Snapshot 返回当前状态
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Address:  s.address,
		Resolved: s.resolved,
		Inputs:   append([]string(nil), s.inputs...),
		Value:    s.value,
	}
	if s.chain != nil {
		snap.ChainID = s.chain.ID
	}
	if s.selected != nil {
		snap.Function = s.selected.Selector
	}
	return snap
}

// SetAddress 设置合约地址；地址变化时清空函数选择、参数与已获取的数据
func (s *Session) SetAddress(address string) {
	address = strings.TrimSpace(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.EqualFold(address, s.address) {
		return
	}
	s.invalidateLocked()
	s.address = address
	s.selected = nil
	s.inputs = nil
}

// AvailableChains 查询已验证的链并默认选中第一条
func (s *Session) AvailableChains(ctx context.Context) ([]*chains.Chain, error) {
	s.mu.Lock()
	address := s.address
	s.mu.Unlock()

	if !common.IsHexAddress(address) {
		return nil, apperrors.New(ErrNoAddress)
	}
	result := s.deps.Validator.ValidateAddress(address)
	if err := result.FirstError(); err != nil {
		return nil, err
	}
	for _, warning := range result.Warnings {
		s.logger.Debug(warning)
	}

	available := s.deps.Registry.List()
	if s.deps.Lookup != nil {
		available = s.deps.Lookup.AvailableChains(ctx, address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.address != address {
		return available, nil
	}
	if len(available) > 0 {
		s.selectChainLocked(available[0])
	} else {
		s.selectChainLocked(nil)
	}
	return available, nil
}

// SelectChain 选择链；链变化时旧的缓存条目失效
func (s *Session) SelectChain(chainID uint64) error {
	chain, err := s.deps.Registry.Resolve(chainID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectChainLocked(chain)
	return nil
}

func (s *Session) selectChainLocked(chain *chains.Chain) {
	if s.chain != nil && chain != nil && s.chain.ID == chain.ID {
		return
	}
	s.invalidateLocked()
	s.chain = chain
}

// invalidateLocked 清除当前 (链, 地址) 对应的缓存与槽位
func (s *Session) invalidateLocked() {
	if s.chain != nil && s.address != "" {
		s.deps.Resolver.Invalidate(contract.NewKey(s.chain.ID, s.address))
	}
	s.iface = nil
	s.resolved = nil
	s.txs = nil
	s.txLoaded = false
}

// LoadInterface 获取当前 (链, 地址) 的合约接口
func (s *Session) LoadInterface(ctx context.Context) (*codec.ContractInterface, error) {
	s.mu.Lock()
	if s.iface != nil {
		iface := s.iface
		s.mu.Unlock()
		return iface, nil
	}
	chain, address, err := s.keyLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	iface, resolved, err := s.deps.Resolver.Resolve(ctx, chain.ID, address)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 获取期间地址或链已变化，结果丢弃
	if s.chain != chain || s.address != address {
		return iface, nil
	}
	s.iface = iface
	s.resolved = resolved
	if s.selected != nil {
		if fn, ok := iface.FunctionBySelector(s.selected.Selector); ok {
			s.selected = fn
		} else {
			s.selected = nil
			s.inputs = nil
		}
	}
	return iface, nil
}

func (s *Session) keyLocked() (*chains.Chain, string, error) {
	if s.address == "" {
		return nil, "", apperrors.New(ErrNoAddress)
	}
	if s.chain == nil {
		return nil, "", apperrors.New(ErrNoChain)
	}
	return s.chain, s.address, nil
}

// SelectFunction 按选择器选中函数并清空参数
func (s *Session) SelectFunction(selector string) (*codec.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iface == nil {
		return nil, apperrors.New(ErrNoInterface)
	}
	fn, ok := s.iface.FunctionBySelector(selector)
	if !ok {
		return nil, apperrors.New(codec.ErrNoMatchingFunction).WithContext("selector", selector)
	}
	s.selected = fn
	s.inputs = make([]string, len(fn.Inputs))
	return fn, nil
}

// ClearFunction 取消函数选择
func (s *Session) ClearFunction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.inputs = nil
}

// Selected 当前选中的函数
func (s *Session) Selected() *codec.Function {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetInput 设置第index个参数
func (s *Session) SetInput(index int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setInputLocked(index, value)
}

func (s *Session) setInputLocked(index int, value string) error {
	if s.selected == nil {
		return apperrors.New(ErrNoFunction)
	}
	if index < 0 || index >= len(s.inputs) {
		return apperrors.New(ErrInputIndex).WithContext("index", index)
	}
	s.inputs[index] = value
	return nil
}

// ScaleInput 将第index个参数乘以10^magnitude；失败时参数保持不变
func (s *Session) ScaleInput(index, magnitude int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		return "", apperrors.New(ErrNoFunction)
	}
	if index < 0 || index >= len(s.inputs) {
		return "", apperrors.New(ErrInputIndex).WithContext("index", index)
	}

	scaled, err := codec.Scale(s.inputs[index], magnitude)
	if err != nil {
		return "", err
	}
	s.inputs[index] = scaled
	return scaled, nil
}

// ScaleInputByDecimals 按合约的decimals()换算，无法读取时使用18
func (s *Session) ScaleInputByDecimals(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	chain, address, err := s.keyLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	decimals := s.deps.Resolver.DecimalsOrDefault(ctx, chain.ID, address)
	return s.ScaleInput(index, decimals)
}

// SetValue 设置随交易发送的金额（wei）
func (s *Session) SetValue(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = strings.TrimSpace(value)
}

// ScaleValue 将金额从ether换算为wei；失败时金额保持不变
func (s *Session) ScaleValue() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scaled, err := codec.Scale(s.value, codec.DefaultDecimals)
	if err != nil {
		return "", err
	}
	s.value = scaled
	return scaled, nil
}

// ResolveNameInput 将ENS名称参数替换为地址；解析失败时保留原文
func (s *Session) ResolveNameInput(ctx context.Context, index int) (string, error) {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return "", apperrors.New(ErrNoFunction)
	}
	if index < 0 || index >= len(s.inputs) {
		s.mu.Unlock()
		return "", apperrors.New(ErrInputIndex).WithContext("index", index)
	}
	raw := s.inputs[index]
	s.mu.Unlock()

	if s.deps.Names == nil {
		return raw, nil
	}
	resolved := s.deps.Names.ResolveOrKeep(ctx, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if index < len(s.inputs) && s.inputs[index] == raw {
		s.inputs[index] = resolved
	}
	return resolved, nil
}

// EncodedData 当前函数与参数的调用数据；view/pure函数或参数无效时返回错误
func (s *Session) EncodedData() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodedLocked()
}

func (s *Session) encodedLocked() (string, error) {
	if s.selected == nil {
		return "", apperrors.New(ErrNoFunction)
	}
	data, err := codec.Encode(s.selected, s.inputs)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

// Read 对选中的函数执行只读调用，目标为用户输入的地址
func (s *Session) Read(ctx context.Context) ([]codec.DecodedArg, error) {
	s.mu.Lock()
	chain, address, err := s.keyLocked()
	fn := s.selected
	args := append([]string(nil), s.inputs...)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, apperrors.New(ErrNoFunction)
	}
	if s.deps.Readers == nil {
		return nil, apperrors.New(apperrors.ErrUpstreamFailed).WithContext("reason", "未配置RPC")
	}

	to, err := contract.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	reader, err := s.deps.Readers.Reader(ctx, chain.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).WithChainID(chain.ID)
	}
	return codec.NewCaller(reader, s.logger).Read(ctx, to, fn, args)
}

// Transactions 最近的交易，按当前选中的函数过滤，最多50条
func (s *Session) Transactions(ctx context.Context) ([]*models.TransactionRecord, error) {
	s.mu.Lock()
	chain, address, err := s.keyLocked()
	loaded, records := s.txLoaded, s.txs
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if s.deps.History == nil {
		return []*models.TransactionRecord{}, nil
	}

	if !loaded {
		records, err = s.deps.History.Fetch(ctx, chain.ID, address)
		if err != nil {
			return nil, err
		}
		records = s.validRecords(records)

		s.mu.Lock()
		if s.chain == chain && s.address == address {
			s.txs = records
			s.txLoaded = true
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	selected, iface := s.selected, s.iface
	s.mu.Unlock()

	filtered := history.Filter(records, selected)
	history.Annotate(ctx, filtered, iface, s.deps.Labeler)
	return filtered, nil
}

// validRecords 丢弃哈希或调用数据格式异常的记录
func (s *Session) validRecords(records []*models.TransactionRecord) []*models.TransactionRecord {
	valid := make([]*models.TransactionRecord, 0, len(records))
	for _, record := range records {
		if err := s.deps.Validator.ValidateTransaction(record); err != nil {
			s.logger.WithField("hash", record.Hash).Warnf("忽略格式异常的交易: %v", err)
			continue
		}
		valid = append(valid, record)
	}
	return valid
}

// ApplyTransaction 用历史交易填充表单：选中函数、解码参数，payable函数同时带入金额
func (s *Session) ApplyTransaction(tx *models.TransactionRecord) (*codec.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deps.Validator.ValidateTransaction(tx); err != nil {
		return nil, err
	}
	if s.iface == nil {
		return nil, apperrors.New(ErrNoInterface)
	}
	fn, ok := s.iface.FunctionBySelector(tx.MethodID)
	if !ok {
		return nil, apperrors.New(codec.ErrNoMatchingFunction).WithContext("selector", tx.MethodID)
	}

	s.selected = fn
	s.inputs = make([]string, len(fn.Inputs))

	decoded, err := codec.DecodeHex(s.iface, tx.Input)
	if err != nil {
		s.logger.WithField("hash", tx.Hash).Warnf("解码历史交易失败: %v", err)
		return fn, err
	}
	s.inputs = decoded.Values()

	if fn.IsPayable() && tx.Value != "0" {
		s.value = tx.Value
	}
	return fn, nil
}

// ShareLink 生成分享链接并输出事件
func (s *Session) ShareLink(base string) (string, error) {
	s.mu.Lock()
	chain, address, err := s.keyLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	data, err := s.encodedLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	link := models.ShareableLink{
		ChainID: chain.ID,
		To:      address,
		Value:   s.value,
		Data:    data,
	}
	fn := s.selected.Signature
	s.mu.Unlock()

	if link.Value == "" {
		link.Value = "0"
	}
	shareURL := txlink.URL(base, link)

	if s.deps.Publisher != nil {
		event := &models.ShareLinkEvent{
			Link:      link,
			URL:       shareURL,
			Function:  fn,
			Timestamp: time.Now(),
		}
		if err := s.deps.Publisher.PublishShareLink(event); err != nil {
			s.logger.Warnf("输出分享链接事件失败: %v", err)
		}
	}
	return shareURL, nil
}
