package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"abiscope/internal/config"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"
)

// FourByteResponse 4byte.directory API响应
type FourByteResponse struct {
	Count   int         `json:"count"`
	Results []signature `json:"results"`
}

type signature struct {
	ID            int    `json:"id"`
	TextSignature string `json:"text_signature"`
	HexSignature  string `json:"hex_signature"`
}

// 常见方法签名，4byte不可用时兜底
var commonMethods = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0x5c60da1b": "implementation()",
	"0x3659cfe6": "upgradeTo(address)",
	"0xd0e30db0": "deposit()",
	"0x2e1a7d4d": "withdraw(uint256)",
}

// SelectorLabeler 为接口中不存在的选择器提供可读标签
type SelectorLabeler struct {
	logger *logrus.Logger
	cache  *ristretto.Cache[string, string]
	config *config.DecoderConfig
	client *http.Client
}

// NewSelectorLabeler 创建选择器标签查询器
func NewSelectorLabeler(logger *logrus.Logger, decoderConfig *config.DecoderConfig) (*SelectorLabeler, error) {
	if decoderConfig == nil {
		decoderConfig = config.GetDefaultConfig().Decoder
	}

	timeout, err := time.ParseDuration(decoderConfig.APITimeout)
	if err != nil {
		timeout = 5 * time.Second
		logger.Warnf("解析API超时时间失败，使用默认值5s: %v", err)
	}

	size := int64(decoderConfig.CacheSize)
	if size <= 0 {
		size = 10000
	}

	var cache *ristretto.Cache[string, string]
	if decoderConfig.EnableCache {
		cache, err = ristretto.NewCache(&ristretto.Config[string, string]{
			NumCounters: size * 10,
			MaxCost:     size,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("创建选择器缓存失败: %w", err)
		}
	}

	return &SelectorLabeler{
		logger: logger,
		cache:  cache,
		config: decoderConfig,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Label 查询选择器对应的文本签名，未知时返回空字符串
func (l *SelectorLabeler) Label(ctx context.Context, selector string) string {
	selector = strings.ToLower(selector)
	if len(selector) != 10 {
		return ""
	}

	if l.cache != nil {
		if name, found := l.cache.Get(selector); found {
			return name
		}
	}

	name := ""
	if l.config.EnableAPI {
		name = l.fetchFromFourByteDirectory(ctx, selector)
	}
	if name == "" {
		name = commonMethods[selector]
	}

	if name != "" && l.cache != nil {
		l.cache.Set(selector, name, 1)
		l.cache.Wait()
	}
	return name
}

// fetchFromFourByteDirectory 从4byte.directory获取签名，取最早登记的一条
func (l *SelectorLabeler) fetchFromFourByteDirectory(ctx context.Context, selector string) string {
	endpoint := fmt.Sprintf("%s?hex_signature=%s", l.config.FourByteAPIURL, url.QueryEscape(selector))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		l.logger.Debugf("构造4byte.directory请求失败: %v", err)
		return ""
	}

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debugf("4byte.directory API调用失败: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.logger.Debugf("4byte.directory API返回错误状态: %d", resp.StatusCode)
		return ""
	}

	var response FourByteResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		l.logger.Debugf("解析4byte.directory响应失败: %v", err)
		return ""
	}

	best := ""
	bestID := 0
	for _, r := range response.Results {
		if best == "" || r.ID < bestID {
			best, bestID = r.TextSignature, r.ID
		}
	}
	return best
}

// Close 释放缓存
func (l *SelectorLabeler) Close() {
	if l.cache != nil {
		l.cache.Close()
	}
}
