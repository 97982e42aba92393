package workbench

import (
	"context"
	"net/url"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	"abiscope/internal/connection"
	"abiscope/internal/contract"
	"abiscope/internal/history"
	"abiscope/internal/txlink"
	"abiscope/internal/validation"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
)

// InterfaceResolver ABI解析
type InterfaceResolver interface {
	Resolve(ctx context.Context, chainID uint64, address string) (*codec.ContractInterface, *models.ResolvedAddress, error)
	Invalidate(key contract.Key)
	DecimalsOrDefault(ctx context.Context, chainID uint64, address string) int
}

// ChainLookup 按验证情况筛选链
type ChainLookup interface {
	AvailableChains(ctx context.Context, address string) []*chains.Chain
}

// HistorySource 历史交易
type HistorySource interface {
	Fetch(ctx context.Context, chainID uint64, address string) ([]*models.TransactionRecord, error)
}

// NameResolver ENS名称解析，失败时保留原文
type NameResolver interface {
	ResolveOrKeep(ctx context.Context, input string) string
}

// LinkPublisher 分享链接事件输出
type LinkPublisher interface {
	PublishShareLink(event *models.ShareLinkEvent) error
}

// Deps 会话依赖，除Resolver与Registry外均可为空
type Deps struct {
	Registry  *chains.Registry
	Resolver  InterfaceResolver
	Lookup    ChainLookup
	History   HistorySource
	Names     NameResolver
	Readers   connection.ReaderProvider
	Labeler   history.Labeler
	Publisher LinkPublisher
	Validator *validation.Validator
}

// Workbench 创建会话并检查分享链接
type Workbench struct {
	deps   Deps
	logger *logrus.Logger
}

// New 创建工作台
func New(deps Deps, logger *logrus.Logger) *Workbench {
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator(logger, deps.Registry, false)
	}
	return &Workbench{deps: deps, logger: logger}
}

// ValidationStats 校验器状态
func (w *Workbench) ValidationStats() map[string]interface{} {
	return w.deps.Validator.GetValidationStats()
}

// NewSession 创建空会话
func (w *Workbench) NewSession() *Session {
	return &Session{deps: w.deps, logger: w.logger}
}

// Inspection 分享链接的检查结果
type Inspection struct {
	Parsed      *txlink.Parsed          `json:"parsed"`
	Resolved    *models.ResolvedAddress `json:"resolved,omitempty"`
	Decoded     *codec.DecodedCall      `json:"decoded,omitempty"`
	DecodeError string                  `json:"decodeError,omitempty"`
}

// Inspect 校验链接参数，解析目标合约的ABI并解码调用数据
// 参数无效时返回错误；ABI不可用或选择器不匹配只记录在DecodeError中
func (w *Workbench) Inspect(ctx context.Context, values url.Values) (*Inspection, error) {
	parsed, err := txlink.Parse(values, w.deps.Validator, w.deps.Registry)
	if err != nil {
		return nil, err
	}

	inspection := &Inspection{Parsed: parsed}

	iface, resolved, err := w.deps.Resolver.Resolve(ctx, parsed.Chain.ID, parsed.Link.To)
	if err != nil {
		w.logger.WithFields(logrus.Fields{
			"chain_id": parsed.Chain.ID,
			"to":       parsed.Link.To,
		}).Warnf("分享链接目标合约的ABI不可用: %v", err)
		inspection.DecodeError = err.Error()
		return inspection, nil
	}
	inspection.Resolved = resolved

	decoded, err := codec.DecodeHex(iface, parsed.Link.Data)
	if err != nil {
		inspection.DecodeError = err.Error()
		return inspection, nil
	}
	inspection.Decoded = decoded
	return inspection, nil
}
