package ens

import (
	"context"
	"strings"

	"abiscope/internal/config"
	"abiscope/internal/connection"
	apperrors "abiscope/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChainID 名称只在主网上解析
	DefaultChainID uint64 = 1
	// DefaultRegistry 主网ENS注册表
	DefaultRegistry = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"
)

var (
	// resolver(bytes32)
	resolverSelector = common.FromHex("0x0178b8bf")
	// addr(bytes32)
	addrSelector = common.FromHex("0x3b3b57de")
)

// ErrNameNotFound 名称没有解析器或没有设置地址
var ErrNameNotFound = apperrors.NewAppError(
	apperrors.ErrorTypeNotFound,
	apperrors.SeverityLow,
	"NAME_NOT_FOUND",
	"ENS名称未解析到地址",
)

// Resolver ENS正向解析
type Resolver struct {
	readers  connection.ReaderProvider
	chainID  uint64
	registry common.Address
	logger   *logrus.Logger
}

// NewResolver 创建名称解析器，cfg为nil时使用主网默认值
func NewResolver(readers connection.ReaderProvider, cfg *config.NamesConfig, logger *logrus.Logger) *Resolver {
	r := &Resolver{
		readers:  readers,
		chainID:  DefaultChainID,
		registry: common.HexToAddress(DefaultRegistry),
		logger:   logger,
	}
	if cfg != nil {
		if cfg.ChainID != 0 {
			r.chainID = cfg.ChainID
		}
		if common.IsHexAddress(cfg.Registry) {
			r.registry = common.HexToAddress(cfg.Registry)
		}
	}
	return r
}

// IsName 非十六进制地址且以 .eth 结尾
func IsName(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" || common.IsHexAddress(input) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(input), ".eth")
}

// Namehash ENS namehash算法，从右向左逐级哈希
// 仅做小写处理，未实现UTS-46规范化；需规范化的名称会解析失败并保留原文
func Namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}

	labels := strings.Split(strings.ToLower(name), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

// Resolve 解析名称：注册表 resolver(node) -> 解析器 addr(node)
func (r *Resolver) Resolve(ctx context.Context, name string) (common.Address, error) {
	name = strings.TrimSpace(name)
	if !IsName(name) {
		return common.Address{}, apperrors.Invalid("INVALID_NAME", "不是有效的ENS名称: %s", name)
	}

	reader, err := r.readers.Reader(ctx, r.chainID)
	if err != nil {
		return common.Address{}, err
	}

	node := Namehash(name)

	resolverAddr, err := r.callAddress(ctx, reader, r.registry, resolverSelector, node)
	if err != nil {
		return common.Address{}, err
	}
	if resolverAddr == (common.Address{}) {
		return common.Address{}, apperrors.New(ErrNameNotFound).WithContext("name", name)
	}

	addr, err := r.callAddress(ctx, reader, resolverAddr, addrSelector, node)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, apperrors.New(ErrNameNotFound).WithContext("name", name)
	}

	r.logger.WithFields(logrus.Fields{
		"name":    name,
		"address": addr.Hex(),
	}).Debug("ENS名称解析完成")
	return addr, nil
}

// ResolveOrKeep 解析失败时返回原始输入
func (r *Resolver) ResolveOrKeep(ctx context.Context, input string) string {
	if !IsName(input) {
		return input
	}
	addr, err := r.Resolve(ctx, input)
	if err != nil {
		r.logger.Warnf("解析ENS名称 %s 失败: %v", input, err)
		return input
	}
	return addr.Hex()
}

func (r *Resolver) callAddress(ctx context.Context, reader connection.ChainReader, to common.Address, selector []byte, node common.Hash) (common.Address, error) {
	data := append(append([]byte{}, selector...), node.Bytes()...)
	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return common.Address{}, ctx.Err()
		}
		return common.Address{}, apperrors.Wrap(apperrors.ErrUpstreamFailed, err).
			WithComponent("ens").
			WithAddress(to.Hex())
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[12:32]), nil
}
