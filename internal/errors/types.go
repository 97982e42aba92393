package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 合约相关错误
	ErrorTypeNotFound ErrorType = iota
	ErrorTypeMalformedMetadata

	// 链相关错误
	ErrorTypeUnsupportedChain

	// 输入相关错误
	ErrorTypeInvalidInput

	// 网络相关错误
	ErrorTypeTimeout
	ErrorTypeAborted
	ErrorTypePartialFailure
	ErrorTypeExternalAPI

	// 系统相关错误
	ErrorTypeConfig
	ErrorTypeStorage
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// AppError 自定义错误类型
type AppError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
	ChainID   *uint64                `json:"chain_id,omitempty"`
	Address   *string                `json:"address,omitempty"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is 同一错误码视为同一错误，便于与预定义错误比较
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext 添加上下文信息
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithChainID 添加链ID
func (e *AppError) WithChainID(chainID uint64) *AppError {
	e.ChainID = &chainID
	return e
}

// WithAddress 添加合约地址
func (e *AppError) WithAddress(address string) *AppError {
	e.Address = &address
	return e
}

// WithComponent 标记产生错误的组件
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// NewAppError 创建新的错误
func NewAppError(errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// Wrap 以预定义错误为模板包装底层错误
func Wrap(template *AppError, cause error) *AppError {
	return WrapError(cause, template.Type, template.Severity, template.Code, template.Message)
}

// New 以预定义错误为模板创建新实例，避免修改共享的预定义错误
func New(template *AppError) *AppError {
	return NewAppError(template.Type, template.Severity, template.Code, template.Message)
}

// Invalid 创建输入校验错误
func Invalid(code, format string, args ...interface{}) *AppError {
	return NewAppError(ErrorTypeInvalidInput, SeverityLow, code, fmt.Sprintf(format, args...))
}

// TypeOf 返回错误类型，非AppError时根据上下文错误推断
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type, true
	}
	if stderrors.Is(err, context.Canceled) {
		return ErrorTypeAborted, true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout, true
	}
	return 0, false
}

// Is 同标准库errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 同标准库errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// IsType 判断错误链中是否包含指定类型
func IsType(err error, errorType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errorType
}

// IsAborted 请求被新输入取代或被调用方取消，不应作为错误展示
func IsAborted(err error) bool {
	return IsType(err, ErrorTypeAborted)
}

// 预定义错误
var (
	ErrContractNotFound = NewAppError(
		ErrorTypeNotFound,
		SeverityMedium,
		"CONTRACT_NOT_FOUND",
		"合约未在Sourcify上验证或不存在",
	)

	ErrMetadataNotFound = NewAppError(
		ErrorTypeMalformedMetadata,
		SeverityMedium,
		"METADATA_NOT_FOUND",
		"未找到metadata.json文件",
	)

	ErrMetadataUnreadable = NewAppError(
		ErrorTypeMalformedMetadata,
		SeverityMedium,
		"METADATA_UNREADABLE",
		"解析合约元数据失败",
	)

	ErrUnsupportedChain = NewAppError(
		ErrorTypeUnsupportedChain,
		SeverityLow,
		"UNSUPPORTED_CHAIN",
		"不支持的链ID",
	)

	ErrInvalidAddress = NewAppError(
		ErrorTypeInvalidInput,
		SeverityLow,
		"INVALID_ADDRESS",
		"无效的地址格式",
	)

	ErrInvalidHex = NewAppError(
		ErrorTypeInvalidInput,
		SeverityLow,
		"INVALID_HEX",
		"无效的十六进制数据",
	)

	ErrInvalidNumber = NewAppError(
		ErrorTypeInvalidInput,
		SeverityLow,
		"INVALID_NUMBER",
		"无效的数字",
	)

	ErrMissingParameter = NewAppError(
		ErrorTypeInvalidInput,
		SeverityLow,
		"MISSING_PARAMETER",
		"缺少必需参数",
	)

	ErrRequestTimeout = NewAppError(
		ErrorTypeTimeout,
		SeverityMedium,
		"REQUEST_TIMEOUT",
		"请求超时",
	)

	ErrRequestAborted = NewAppError(
		ErrorTypeAborted,
		SeverityLow,
		"REQUEST_ABORTED",
		"请求已取消",
	)

	ErrPartialFailure = NewAppError(
		ErrorTypePartialFailure,
		SeverityLow,
		"PARTIAL_FAILURE",
		"部分数据源请求失败",
	)

	ErrUpstreamFailed = NewAppError(
		ErrorTypeExternalAPI,
		SeverityMedium,
		"UPSTREAM_FAILED",
		"外部服务请求失败",
	)

	ErrConfigInvalid = NewAppError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)

	ErrStorageFailed = NewAppError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORAGE_FAILED",
		"存储操作失败",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNotFound:          "NotFound",
	ErrorTypeMalformedMetadata: "MalformedMetadata",
	ErrorTypeUnsupportedChain:  "UnsupportedChain",
	ErrorTypeInvalidInput:      "InvalidInput",
	ErrorTypeTimeout:           "Timeout",
	ErrorTypeAborted:           "Aborted",
	ErrorTypePartialFailure:    "PartialFailure",
	ErrorTypeExternalAPI:       "ExternalAPI",
	ErrorTypeConfig:            "Config",
	ErrorTypeStorage:           "Storage",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}
