package contract

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/connection"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/logging"
	"abiscope/internal/metrics"
	"abiscope/internal/probe"
	"abiscope/internal/sourcify"
	"abiscope/internal/store"
	"abiscope/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const metadataFile = "metadata.json"

var (
	// implementation()
	implementationSelector = common.FromHex("0x5c60da1b")
	// decimals()
	decimalsSelector = common.FromHex("0x313ce567")
	// bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1)
	eip1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
)

// MetadataSource 已验证合约文件来源
type MetadataSource interface {
	Files(ctx context.Context, chainID uint64, address string) (*sourcify.FilesResponse, error)
}

// Store 可选的持久化层
type Store interface {
	Get(key string) (*store.Entry, bool, error)
	Put(key string, entry *store.Entry) error
	Delete(key string) error
}

// Publisher 可选的解析事件输出
type Publisher interface {
	PublishResolution(event *models.ResolutionEvent) error
}

// Resolver 合约接口解析器
type Resolver struct {
	registry  *chains.Registry
	readers   connection.ReaderProvider
	metadata  MetadataSource
	cache     *Cache
	store     Store
	publisher Publisher
	logger    *logrus.Logger
}

// Option 解析器可选项
type Option func(*Resolver)

// WithStore 启用持久化缓存
func WithStore(s Store) Option {
	return func(r *Resolver) { r.store = s }
}

// WithPublisher 启用事件输出
func WithPublisher(p Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

// WithCache 使用外部缓存
func WithCache(c *Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver 创建解析器
func NewResolver(registry *chains.Registry, readers connection.ReaderProvider, metadata MetadataSource, logger *logrus.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		readers:  readers,
		metadata: metadata,
		cache:    NewCache(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache 返回进程内缓存
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve 解析合约接口：代理检测 -> 获取元数据 -> 解析ABI，结果按 (链ID, 地址) 缓存
func (r *Resolver) Resolve(ctx context.Context, chainID uint64, address string) (*codec.ContractInterface, *models.ResolvedAddress, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.registry.Resolve(chainID); err != nil {
		return nil, nil, err
	}

	key := NewKey(chainID, address)
	log := logging.NewChainLogger(r.logger, "resolver", chainID, addr.Hex())

	if res, ok := r.cache.Get(key); ok {
		metrics.ABIResolve(chainID, "cache", "ok")
		return res.Interface, res.Address, nil
	}

	if res, ok := r.loadStored(key, log); ok {
		r.cache.Put(key, res)
		metrics.ABIResolve(chainID, "store", "ok")
		r.publish(chainID, res, "store")
		return res.Interface, res.Address, nil
	}

	resolved := r.resolveProxy(ctx, chainID, addr, log)

	raw, err := r.fetchABI(ctx, chainID, resolved.Effective)
	if err != nil {
		metrics.ABIResolve(chainID, "sourcify", "error")
		return nil, nil, err
	}

	iface, err := codec.ParseABI(raw)
	if err != nil {
		metrics.ABIResolve(chainID, "sourcify", "error")
		return nil, nil, apperrors.Wrap(apperrors.ErrMetadataUnreadable, err).
			WithChainID(chainID).
			WithAddress(resolved.Effective)
	}

	res := &Resolution{Interface: iface, Address: resolved}
	r.cache.Put(key, res)
	r.persist(key, chainID, res, log)
	metrics.ABIResolve(chainID, "sourcify", "ok")
	r.publish(chainID, res, "sourcify")

	log.WithFields(logrus.Fields{
		"effective": resolved.Effective,
		"strategy":  resolved.Strategy,
		"functions": len(iface.Functions),
		"events":    len(iface.Events),
	}).Info("合约接口解析完成")

	return iface, resolved, nil
}

// ResolveAddress 只做代理检测，不获取元数据
func (r *Resolver) ResolveAddress(ctx context.Context, chainID uint64, address string) (*models.ResolvedAddress, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if _, err := r.registry.Resolve(chainID); err != nil {
		return nil, err
	}
	log := logging.NewChainLogger(r.logger, "resolver", chainID, addr.Hex())
	return r.resolveProxy(ctx, chainID, addr, log), nil
}

// Invalidate 删除缓存条目（包括持久化层）
func (r *Resolver) Invalidate(key Key) {
	r.cache.Invalidate(key)
	if r.store != nil {
		if err := r.store.Delete(key.String()); err != nil {
			r.logger.Warnf("删除持久化缓存 %s 失败: %v", key, err)
		}
	}
}

// resolveProxy 两个探测并发执行，implementation() 优先于 EIP-1967 存储槽，均失败时使用原地址
func (r *Resolver) resolveProxy(ctx context.Context, chainID uint64, addr common.Address, log *logrus.Entry) *models.ResolvedAddress {
	resolved := &models.ResolvedAddress{
		Requested: addr.Hex(),
		Effective: addr.Hex(),
		Strategy:  models.ProxyStrategyNone,
	}

	reader, err := r.readers.Reader(ctx, chainID)
	if err != nil {
		log.Warnf("无法获取RPC客户端，跳过代理检测: %v", err)
		metrics.ProxyDetect(chainID, string(models.ProxyStrategyNone))
		return resolved
	}

	probes := []probe.Probe[common.Address]{
		{
			Name: string(models.ProxyStrategyImplementationCall),
			Run: func(ctx context.Context) (common.Address, error) {
				out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: implementationSelector}, nil)
				if err != nil {
					return common.Address{}, err
				}
				return wordAddress(out)
			},
		},
		{
			Name: string(models.ProxyStrategyEIP1967Slot),
			Run: func(ctx context.Context) (common.Address, error) {
				out, err := reader.StorageAt(ctx, addr, eip1967ImplementationSlot, nil)
				if err != nil {
					return common.Address{}, err
				}
				return wordAddress(out)
			},
		},
	}

	if impl, strategy, ok := probe.First(ctx, probes); ok {
		resolved.Effective = impl.Hex()
		resolved.Strategy = models.ProxyStrategy(strategy)
		log.Debugf("检测到代理合约，实现地址 %s (%s)", impl.Hex(), strategy)
	}
	metrics.ProxyDetect(chainID, string(resolved.Strategy))
	return resolved
}

// wordAddress 取32字节返回值的低20字节，零地址视为无效
func wordAddress(word []byte) (common.Address, error) {
	if len(word) < 32 {
		return common.Address{}, probe.ErrRejected
	}
	addr := common.BytesToAddress(word[12:32])
	if addr == (common.Address{}) {
		return common.Address{}, probe.ErrRejected
	}
	return addr, nil
}

// fetchABI 获取 metadata.json 中的 output.abi
func (r *Resolver) fetchABI(ctx context.Context, chainID uint64, address string) ([]byte, error) {
	start := time.Now()
	files, err := r.metadata.Files(ctx, chainID, address)
	metrics.ObserveUpstream("sourcify", start)
	if err != nil {
		return nil, err
	}

	file, ok := files.Find(metadataFile)
	if !ok {
		return nil, apperrors.New(apperrors.ErrMetadataNotFound).
			WithChainID(chainID).
			WithAddress(address)
	}

	return ExtractABI([]byte(file.Content))
}

// ExtractABI 从元数据JSON中取出ABI数组
func ExtractABI(metadata []byte) ([]byte, error) {
	var doc struct {
		Output struct {
			ABI json.RawMessage `json:"abi"`
		} `json:"output"`
	}
	if err := json.Unmarshal(metadata, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMetadataUnreadable, err)
	}

	abiJSON := strings.TrimSpace(string(doc.Output.ABI))
	if abiJSON == "" || abiJSON == "null" || !strings.HasPrefix(abiJSON, "[") {
		return nil, apperrors.New(apperrors.ErrMetadataUnreadable).
			WithContext("reason", "元数据缺少 output.abi")
	}
	return doc.Output.ABI, nil
}

func (r *Resolver) loadStored(key Key, log *logrus.Entry) (*Resolution, bool) {
	if r.store == nil {
		return nil, false
	}
	entry, ok, err := r.store.Get(key.String())
	if err != nil {
		log.Warnf("读取持久化缓存失败: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	iface, err := codec.ParseABI(entry.ABI)
	if err != nil {
		log.Warnf("持久化缓存中的ABI无效，重新获取: %v", err)
		return nil, false
	}
	address := entry.Address
	return &Resolution{Interface: iface, Address: &address}, true
}

func (r *Resolver) persist(key Key, chainID uint64, res *Resolution, log *logrus.Entry) {
	if r.store == nil {
		return
	}
	entry := &store.Entry{
		ChainID: chainID,
		Address: *res.Address,
		ABI:     res.Interface.Raw,
	}
	if err := r.store.Put(key.String(), entry); err != nil {
		log.Warnf("写入持久化缓存失败: %v", err)
	}
}

func (r *Resolver) publish(chainID uint64, res *Resolution, source string) {
	if r.publisher == nil {
		return
	}
	event := &models.ResolutionEvent{
		ChainID:   chainID,
		Address:   *res.Address,
		Functions: len(res.Interface.Functions),
		Events:    len(res.Interface.Events),
		Source:    source,
		Timestamp: time.Now(),
	}
	if err := r.publisher.PublishResolution(event); err != nil {
		r.logger.Warnf("输出解析事件失败: %v", err)
	}
}

// Decimals 调用无参数的 decimals()，失败时返回false，调用方使用默认值18
func (r *Resolver) Decimals(ctx context.Context, chainID uint64, address string) (uint8, bool) {
	addr, err := ParseAddress(address)
	if err != nil {
		return 0, false
	}
	reader, err := r.readers.Reader(ctx, chainID)
	if err != nil {
		return 0, false
	}

	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: decimalsSelector}, nil)
	if err != nil || len(out) < 32 {
		return 0, false
	}
	value := new(big.Int).SetBytes(out[:32])
	if !value.IsUint64() || value.Uint64() > 255 {
		return 0, false
	}
	return uint8(value.Uint64()), true
}

// DecimalsOrDefault 获取精度，失败时返回18
func (r *Resolver) DecimalsOrDefault(ctx context.Context, chainID uint64, address string) int {
	if d, ok := r.Decimals(ctx, chainID, address); ok {
		return int(d)
	}
	return codec.DefaultDecimals
}

// ParseAddress 要求0x前缀的20字节十六进制地址
func ParseAddress(address string) (common.Address, error) {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidAddress).WithAddress(address)
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, apperrors.New(apperrors.ErrInvalidAddress).WithAddress(address)
	}
	return common.HexToAddress(address), nil
}
