package errors

import (
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统计、记录并映射为面向用户的响应
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误回调
	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AppError)

// Response 面向用户的错误响应，仅作用于出错的区域
type Response struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// Handle 处理错误并返回响应；被取消的请求不计入统计也不记录错误日志
func (eh *ErrorHandler) Handle(err error, component string) *Response {
	appErr := normalize(err)
	if appErr.Component == "" {
		appErr.Component = component
	}

	resp := &Response{
		Status:  HTTPStatus(appErr),
		Code:    appErr.Code,
		Type:    appErr.Type.String(),
		Message: appErr.Message,
	}
	if appErr.Cause != nil {
		resp.Detail = appErr.Cause.Error()
	}

	if appErr.Type == ErrorTypeAborted {
		eh.logger.WithField("component", appErr.Component).Debugf("请求已取消: %s", appErr.Code)
		return resp
	}

	eh.mu.Lock()
	eh.stats.RecordError(appErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(appErr)

	for _, cb := range callbacks {
		cb(appErr)
	}

	return resp
}

// normalize 将任意错误转换为AppError
func normalize(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	if t, ok := TypeOf(err); ok {
		switch t {
		case ErrorTypeAborted:
			return Wrap(ErrRequestAborted, err)
		case ErrorTypeTimeout:
			return Wrap(ErrRequestTimeout, err)
		}
	}

	return WrapError(err, ErrorTypeExternalAPI, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *AppError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"context":    err.Context,
	})
	if err.ChainID != nil {
		entry = entry.WithField("chain_id", *err.ChainID)
	}
	if err.Address != nil {
		entry = entry.WithField("address", *err.Address)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
}

// HTTPStatus 错误类型到HTTP状态码的映射
func HTTPStatus(err error) int {
	t, ok := TypeOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch t {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeMalformedMetadata:
		return http.StatusUnprocessableEntity
	case ErrorTypeUnsupportedChain, ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeAborted:
		// nginx的499：客户端关闭请求
		return 499
	case ErrorTypeExternalAPI, ErrorTypePartialFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息的快照
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.snapshot()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[string]int        `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*AppError           `json:"recent_errors"`
	LastError         *AppError             `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AppError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AppError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}
	return float64(recentCount) / hours
}

func (es *ErrorStats) snapshot() ErrorStats {
	cp := ErrorStats{
		TotalErrors:       es.TotalErrors,
		ErrorsByType:      make(map[string]int, len(es.ErrorsByType)),
		ErrorsBySeverity:  make(map[ErrorSeverity]int, len(es.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(es.ErrorsByComponent)),
		RecentErrors:      append([]*AppError(nil), es.RecentErrors...),
		LastError:         es.LastError,
		LastErrorTime:     es.LastErrorTime,
	}
	for k, v := range es.ErrorsByType {
		cp.ErrorsByType[k] = v
	}
	for k, v := range es.ErrorsBySeverity {
		cp.ErrorsBySeverity[k] = v
	}
	for k, v := range es.ErrorsByComponent {
		cp.ErrorsByComponent[k] = v
	}
	return cp
}
