package sourcify

import (
	"context"
	"strconv"
	"strings"

	"abiscope/internal/chains"
	"abiscope/pkg/models"

	"github.com/sirupsen/logrus"
)

// Verifier 验证服务
type Verifier interface {
	CheckAllByAddresses(ctx context.Context, addresses []string, chainIDs []uint64) ([]models.Verification, error)
}

// Lookup 根据验证情况缩小可选链列表
type Lookup struct {
	verifier Verifier
	registry *chains.Registry
	logger   *logrus.Logger
}

// NewLookup 创建验证查询
func NewLookup(verifier Verifier, registry *chains.Registry, logger *logrus.Logger) *Lookup {
	return &Lookup{verifier: verifier, registry: registry, logger: logger}
}

// VerifiedChainIDs 返回报告了验证结果的链ID集合
func (l *Lookup) VerifiedChainIDs(ctx context.Context, address string) (map[uint64]bool, error) {
	verifications, err := l.verifier.CheckAllByAddresses(ctx, []string{address}, l.registry.IDs())
	if err != nil {
		return nil, err
	}

	ids := make(map[uint64]bool)
	for _, v := range verifications {
		if !strings.EqualFold(v.Address, address) {
			continue
		}
		for _, cv := range v.ChainIDs {
			id, err := strconv.ParseUint(cv.ChainID, 10, 64)
			if err != nil || cv.Status == "" || cv.Status == "false" {
				continue
			}
			ids[id] = true
		}
	}
	return ids, nil
}

// AvailableChains 返回已验证的支持链；查询失败或没有任何链时回退为完整列表
func (l *Lookup) AvailableChains(ctx context.Context, address string) []*chains.Chain {
	ids, err := l.VerifiedChainIDs(ctx, address)
	if err != nil {
		l.logger.WithField("address", address).Warnf("查询验证情况失败，回退为全部链: %v", err)
		return l.registry.List()
	}

	verified := l.registry.Filter(ids)
	if len(verified) == 0 {
		return l.registry.List()
	}
	return verified
}
