package txlink

import (
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"abiscope/internal/chains"
	"abiscope/internal/codec"
	apperrors "abiscope/internal/errors"
	"abiscope/internal/validation"
	"abiscope/pkg/models"
)

// 查询参数名
const (
	ParamChainID = "chainId"
	ParamTo      = "to"
	ParamValue   = "value"
	ParamData    = "data"

	// Path 分享链接的路径
	Path = "/tx"
)

// Parsed 通过验证的分享链接
type Parsed struct {
	Link           models.ShareableLink `json:"link"`
	Chain          *chains.Chain        `json:"chain"`
	ValueWei       *big.Int             `json:"-"`
	ValueFormatted string               `json:"valueFormatted"`
	Warnings       []string             `json:"warnings,omitempty"`
}

// Build 序列化为查询字符串，value为空时使用 "0"
func Build(link models.ShareableLink) string {
	value := link.Value
	if value == "" {
		value = "0"
	}

	params := url.Values{}
	params.Set(ParamChainID, strconv.FormatUint(link.ChainID, 10))
	params.Set(ParamData, link.Data)
	params.Set(ParamTo, link.To)
	params.Set(ParamValue, value)
	return params.Encode()
}

// URL 完整的分享链接
func URL(base string, link models.ShareableLink) string {
	return strings.TrimRight(base, "/") + Path + "?" + Build(link)
}

// Parse 解析四个参数；缺失或任一字段无效都返回错误，不返回部分结果
func Parse(values url.Values, validator *validation.Validator, registry *chains.Registry) (*Parsed, error) {
	for _, name := range []string{ParamChainID, ParamTo, ParamValue, ParamData} {
		if values.Get(name) == "" {
			return nil, apperrors.New(apperrors.ErrMissingParameter).WithContext("param", name)
		}
	}

	chainID, err := strconv.ParseUint(values.Get(ParamChainID), 10, 64)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrUnsupportedChain).WithContext("chainId", values.Get(ParamChainID))
	}

	link := models.ShareableLink{
		ChainID: chainID,
		To:      values.Get(ParamTo),
		Value:   values.Get(ParamValue),
		Data:    values.Get(ParamData),
	}

	result := validator.ValidateLink(&link)
	if err := result.FirstError(); err != nil {
		return nil, err
	}

	chain, err := registry.Resolve(chainID)
	if err != nil {
		return nil, err
	}

	wei, _ := new(big.Int).SetString(link.Value, 10)
	return &Parsed{
		Link:           link,
		Chain:          chain,
		ValueWei:       wei,
		ValueFormatted: codec.FormatEther(wei),
		Warnings:       result.Warnings,
	}, nil
}

// ParseURL 从完整链接或查询字符串解析
func ParseURL(raw string, validator *validation.Validator, registry *chains.Registry) (*Parsed, error) {
	query := raw
	if i := strings.Index(raw, "?"); i >= 0 {
		query = raw[i+1:]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMissingParameter, err)
	}
	return Parse(values, validator, registry)
}
