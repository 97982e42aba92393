package models

import "time"

// ProxyStrategy 代理实现地址的发现方式
type ProxyStrategy string

const (
	ProxyStrategyNone               ProxyStrategy = "none"
	ProxyStrategyImplementationCall ProxyStrategy = "implementation_call"
	ProxyStrategyEIP1967Slot        ProxyStrategy = "eip1967_slot"
)

// ResolvedAddress 实际用于查询ABI的地址
type ResolvedAddress struct {
	Requested string        `json:"requested"`
	Effective string        `json:"effective"`
	Strategy  ProxyStrategy `json:"strategy"`
}

// IsProxy 是否通过代理检测得到了实现地址
func (r *ResolvedAddress) IsProxy() bool {
	return r.Strategy != ProxyStrategyNone && r.Strategy != ""
}

// ContractSearchResult 合约搜索结果（多链聚合后的统一格式）
type ContractSearchResult struct {
	Address          string  `json:"address"`
	Name             string  `json:"name"`
	ChainID          uint64  `json:"chainId"`
	TransactionCount *uint64 `json:"transactionCount,omitempty"`
}

// ChainVerification 某条链上的验证状态
type ChainVerification struct {
	ChainID string `json:"chainId"`
	Status  string `json:"status"` // perfect | partial
}

// Verification 某个地址在各链上的验证情况
type Verification struct {
	Address  string              `json:"address"`
	ChainIDs []ChainVerification `json:"chainIds"`
}

// ResolutionEvent ABI解析事件
type ResolutionEvent struct {
	ChainID   uint64          `json:"chain_id"`
	Address   ResolvedAddress `json:"address"`
	Functions int             `json:"functions"`
	Events    int             `json:"events"`
	Source    string          `json:"source"` // sourcify | cache | store
	Timestamp time.Time       `json:"timestamp"`
}
