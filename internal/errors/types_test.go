package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrorTypeNotFound, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeNotFound, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeStorage, SeverityMedium, "WRAPPED_ERROR", "包装错误")

	assert.Equal(t, ErrorTypeStorage, wrappedErr.Type)
	assert.Equal(t, "WRAPPED_ERROR", wrappedErr.Code)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
}

func TestAppError_Error(t *testing.T) {
	// 测试没有原因的错误
	err := NewAppError(ErrorTypeInvalidInput, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	// 测试有原因的错误
	wrappedErr := WrapError(errors.New("原始错误"), ErrorTypeInvalidInput, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrappedErr.Error())
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := Wrap(ErrContractNotFound, errors.New("404"))
	wrapped := fmt.Errorf("resolve: %w", err)

	assert.True(t, errors.Is(wrapped, ErrContractNotFound))
	assert.False(t, errors.Is(wrapped, ErrMetadataUnreadable))
}

func TestNew_DoesNotMutateTemplate(t *testing.T) {
	err := New(ErrUnsupportedChain).WithChainID(999).WithContext("source", "test")

	assert.Nil(t, ErrUnsupportedChain.ChainID)
	assert.Nil(t, ErrUnsupportedChain.Context)
	assert.Equal(t, uint64(999), *err.ChainID)
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
		ok       bool
	}{
		{"app error", New(ErrInvalidHex), ErrorTypeInvalidInput, true},
		{"wrapped app error", fmt.Errorf("x: %w", New(ErrMetadataUnreadable)), ErrorTypeMalformedMetadata, true},
		{"context canceled", fmt.Errorf("fetch: %w", context.Canceled), ErrorTypeAborted, true},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout, true},
		{"plain", errors.New("boom"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TypeOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(context.Canceled))
	assert.True(t, IsAborted(New(ErrRequestAborted)))
	assert.False(t, IsAborted(context.DeadlineExceeded))
	assert.False(t, IsAborted(nil))
}

func TestErrorType_String(t *testing.T) {
	assert.Equal(t, "NotFound", ErrorTypeNotFound.String())
	assert.Equal(t, "MalformedMetadata", ErrorTypeMalformedMetadata.String())
	assert.Equal(t, "Unknown(999)", ErrorType(999).String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(ErrContractNotFound)))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(ErrMetadataNotFound)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(ErrUnsupportedChain)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(ErrInvalidAddress)))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestErrorHandler_Handle(t *testing.T) {
	logger := logrus.New()
	handler := NewErrorHandler(logger)

	var seen []*AppError
	handler.AddCallback(func(err *AppError) { seen = append(seen, err) })

	resp := handler.Handle(New(ErrContractNotFound), "resolver")
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "CONTRACT_NOT_FOUND", resp.Code)
	assert.Equal(t, "NotFound", resp.Type)

	resp = handler.Handle(errors.New("boom"), "api")
	assert.Equal(t, "UNKNOWN_ERROR", resp.Code)
	assert.Equal(t, "boom", resp.Detail)

	stats := handler.GetStats()
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByComponent["resolver"])
	assert.Equal(t, 1, stats.ErrorsByType["NotFound"])
	assert.Len(t, seen, 2)
}

func TestErrorHandler_AbortedNotRecorded(t *testing.T) {
	handler := NewErrorHandler(logrus.New())

	resp := handler.Handle(context.Canceled, "search")

	assert.Equal(t, "REQUEST_ABORTED", resp.Code)
	assert.Equal(t, 0, handler.GetStats().TotalErrors)
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()

	old := New(ErrInvalidHex)
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	stats.RecordError(old)
	stats.RecordError(New(ErrInvalidHex))
	stats.RecordError(New(ErrInvalidAddress))

	assert.Equal(t, 3, stats.TotalErrors)
	assert.InDelta(t, 2.0, stats.GetErrorRate(time.Hour), 0.001)
	assert.Equal(t, 0.0, stats.GetErrorRate(0))
}

func TestErrorStats_RecentErrorsBounded(t *testing.T) {
	stats := NewErrorStats()
	for i := 0; i < 150; i++ {
		stats.RecordError(New(ErrInvalidNumber))
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Len(t, stats.RecentErrors, 100)
}
