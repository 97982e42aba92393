package chains

import (
	"sort"
	"strconv"

	"abiscope/internal/config"
	apperrors "abiscope/internal/errors"
)

// Chain 支持的网络，启动后不可变
type Chain struct {
	ID            uint64 `json:"id"`
	Name          string `json:"name"`
	RPCURL        string `json:"-"`
	ExplorerURL   string `json:"explorerUrl,omitempty"`
	BlockscoutURL string `json:"-"`
	Verification  bool   `json:"verification"`
}

// ErrUnknownChain 未知链ID，调用方应视为"该链上功能不可用"
var ErrUnknownChain = apperrors.ErrUnsupportedChain

// Registry 链注册表，保持配置中的顺序
type Registry struct {
	chains []*Chain
	byID   map[uint64]*Chain
}

// NewRegistry 创建注册表，重复ID以第一次出现为准
func NewRegistry(chains []*Chain) *Registry {
	r := &Registry{
		chains: make([]*Chain, 0, len(chains)),
		byID:   make(map[uint64]*Chain, len(chains)),
	}
	for _, c := range chains {
		if _, exists := r.byID[c.ID]; exists {
			continue
		}
		cp := *c
		r.chains = append(r.chains, &cp)
		r.byID[c.ID] = &cp
	}
	return r
}

// FromConfig 根据配置创建注册表
func FromConfig(cfgs []*config.ChainConfig) *Registry {
	chains := make([]*Chain, 0, len(cfgs))
	for _, c := range cfgs {
		chains = append(chains, &Chain{
			ID:            c.ID,
			Name:          c.Name,
			RPCURL:        c.RPCURL,
			ExplorerURL:   c.ExplorerURL,
			BlockscoutURL: c.BlockscoutURL,
			Verification:  c.Verification,
		})
	}
	return NewRegistry(chains)
}

// Resolve 按ID查找链
func (r *Registry) Resolve(chainID uint64) (*Chain, error) {
	c, ok := r.byID[chainID]
	if !ok {
		return nil, apperrors.New(ErrUnknownChain).WithChainID(chainID)
	}
	return c, nil
}

// ResolveString 解析十进制链ID字符串后查找
func (r *Registry) ResolveString(raw string) (*Chain, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, apperrors.New(ErrUnknownChain).WithContext("chain_id", raw)
	}
	return r.Resolve(id)
}

// Has 是否支持该链
func (r *Registry) Has(chainID uint64) bool {
	_, ok := r.byID[chainID]
	return ok
}

// List 按配置顺序返回所有链
func (r *Registry) List() []*Chain {
	out := make([]*Chain, len(r.chains))
	copy(out, r.chains)
	return out
}

// IDs 按配置顺序返回所有链ID
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, len(r.chains))
	for i, c := range r.chains {
		ids[i] = c.ID
	}
	return ids
}

// Filter 返回ID集合中的链，保持注册表顺序
func (r *Registry) Filter(ids map[uint64]bool) []*Chain {
	var out []*Chain
	for _, c := range r.chains {
		if ids[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// SortedIDs 升序链ID，用于稳定的查询参数
func (r *Registry) SortedIDs() []uint64 {
	ids := r.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
