package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"abiscope/internal/chains"
	"abiscope/internal/errors"
	"abiscope/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ErrInvalidHash 交易哈希格式无效
var ErrInvalidHash = errors.NewAppError(
	errors.ErrorTypeInvalidInput,
	errors.SeverityLow,
	"INVALID_HASH_FORMAT",
	"哈希格式无效",
)

var (
	hexDataRegex = regexp.MustCompile("^0x[0-9a-fA-F]*$")
	addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
	hashRegex    = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
)

// Validator 输入验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式：混合大小写地址必须通过校验和
	registry   *chains.Registry
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Errors   []*errors.AppError `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
	DataType string             `json:"data_type"`
}

// FirstError 第一个错误，验证通过时为nil
func (r *ValidationResult) FirstError() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, registry *chains.Registry, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		registry:   registry,
		rules:      make(map[string]ValidationRule),
	}

	v.registerDefaultRules()

	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewHexDataValidationRule())
	v.AddRule(NewNumberValidationRule())
	v.AddRule(NewHashValidationRule())
	if v.registry != nil {
		v.AddRule(NewChainValidationRule(v.registry))
	}
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// Check 按规则名验证单个值
func (v *Validator) Check(ruleName string, data interface{}) error {
	rule, exists := v.rules[ruleName]
	if !exists {
		return fmt.Errorf("未注册的验证规则: %s", ruleName)
	}
	return rule.Validate(data)
}

// ValidateLink 验证分享链接的四个字段，任何错误都使整个链接无效
func (v *Validator) ValidateLink(link *models.ShareableLink) *ValidationResult {
	if link == nil {
		return &ValidationResult{
			Valid:    false,
			Errors:   []*errors.AppError{errors.New(errors.ErrMissingParameter).WithContext("reason", "链接为空")},
			DataType: "link",
		}
	}

	result := &ValidationResult{
		Valid:    true,
		DataType: "link",
		Errors:   make([]*errors.AppError, 0),
		Warnings: make([]string, 0),
	}

	if rule, exists := v.rules["chain"]; exists {
		v.apply(result, rule, link.ChainID, "chainId")
	}
	v.apply(result, v.rules["address"], link.To, "to")
	v.apply(result, v.rules["number"], link.Value, "value")
	v.apply(result, v.rules["hex"], link.Data, "data")

	v.checkAddressChecksum(link.To, result)

	if len(strings.TrimPrefix(link.Data, "0x"))%2 == 1 {
		result.Warnings = append(result.Warnings, "调用数据长度为奇数个十六进制字符")
	}

	return result
}

// ValidateTransaction 区块浏览器返回的交易必须带有合法的哈希与十六进制调用数据
func (v *Validator) ValidateTransaction(tx *models.TransactionRecord) error {
	if err := v.Check("hash", tx.Hash); err != nil {
		return err
	}
	return v.Check("hex", tx.Input)
}

// ValidateAddress 验证地址并按严格模式检查校验和
func (v *Validator) ValidateAddress(addr string) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: "address"}
	v.apply(result, v.rules["address"], addr, "address")
	v.checkAddressChecksum(addr, result)
	return result
}

func (v *Validator) apply(result *ValidationResult, rule ValidationRule, data interface{}, field string) {
	if err := rule.Validate(data); err != nil {
		result.Valid = false
		if appErr, ok := err.(*errors.AppError); ok {
			result.Errors = append(result.Errors, appErr.WithContext("field", field))
		} else {
			result.Errors = append(result.Errors, errors.WrapError(err,
				errors.ErrorTypeInvalidInput, errors.SeverityLow,
				"FIELD_VALIDATION_FAILED", "字段验证失败").WithContext("field", field))
		}
	}
}

// checkAddressChecksum 混合大小写地址校验和不匹配时，严格模式报错，否则只警告
func (v *Validator) checkAddressChecksum(addr string, result *ValidationResult) {
	if !addressRegex.MatchString(addr) {
		return
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return
	}
	if common.HexToAddress(addr).Hex() == addr {
		return
	}

	if v.strictMode {
		result.Valid = false
		result.Errors = append(result.Errors, errors.New(errors.ErrInvalidAddress).
			WithAddress(addr).
			WithContext("reason", "校验和不匹配"))
		return
	}
	result.Warnings = append(result.Warnings, fmt.Sprintf("地址 %s 的校验和不匹配", addr))
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式（要求0x前缀）
func isValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// isNumeric 十进制非负整数
func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	n, ok := new(big.Int).SetString(value, 10)
	return ok && n.Sign() >= 0
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidAddress(addr) {
		return errors.New(errors.ErrInvalidAddress).WithAddress(addr)
	}

	return nil
}

// HexDataValidationRule 十六进制数据验证规则，允许奇数长度
type HexDataValidationRule struct{}

func NewHexDataValidationRule() *HexDataValidationRule {
	return &HexDataValidationRule{}
}

func (r *HexDataValidationRule) Name() string {
	return "hex"
}

func (r *HexDataValidationRule) Description() string {
	return "0x前缀十六进制数据验证规则"
}

func (r *HexDataValidationRule) Validate(data interface{}) error {
	hex, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !hexDataRegex.MatchString(hex) {
		return errors.New(errors.ErrInvalidHex).WithContext("data", hex)
	}

	return nil
}

// NumberValidationRule 数值验证规则
type NumberValidationRule struct{}

func NewNumberValidationRule() *NumberValidationRule {
	return &NumberValidationRule{}
}

func (r *NumberValidationRule) Name() string {
	return "number"
}

func (r *NumberValidationRule) Description() string {
	return "十进制非负整数验证规则"
}

func (r *NumberValidationRule) Validate(data interface{}) error {
	value, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isNumeric(value) {
		return errors.New(errors.ErrInvalidNumber).WithContext("value", value)
	}

	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "哈希值验证规则"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidHash(hash) {
		return errors.New(ErrInvalidHash).WithContext("hash", hash)
	}

	return nil
}

// ChainValidationRule 链ID必须在注册表中
type ChainValidationRule struct {
	registry *chains.Registry
}

func NewChainValidationRule(registry *chains.Registry) *ChainValidationRule {
	return &ChainValidationRule{registry: registry}
}

func (r *ChainValidationRule) Name() string {
	return "chain"
}

func (r *ChainValidationRule) Description() string {
	return "已配置链ID验证规则"
}

func (r *ChainValidationRule) Validate(data interface{}) error {
	var chainID uint64
	switch v := data.(type) {
	case uint64:
		chainID = v
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.New(errors.ErrUnsupportedChain).WithContext("chainId", v)
		}
		chainID = id
	default:
		return fmt.Errorf("数据类型不是链ID")
	}

	_, err := r.registry.Resolve(chainID)
	return err
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
