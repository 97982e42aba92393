package codec

import apperrors "abiscope/internal/errors"

// 编解码相关的预定义错误
var (
	ErrReadOnlyFunction = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"READ_ONLY_FUNCTION",
		"view/pure函数只能读取，不能编码为交易",
	)

	ErrNoMatchingFunction = apperrors.NewAppError(
		apperrors.ErrorTypeNotFound,
		apperrors.SeverityLow,
		"NO_MATCHING_FUNCTION",
		"调用数据的选择器与接口中的函数均不匹配",
	)

	ErrArgumentCount = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"ARGUMENT_COUNT_MISMATCH",
		"参数数量与函数定义不一致",
	)

	ErrInvalidArgument = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"INVALID_ARGUMENT",
		"参数无法转换为声明的类型",
	)

	ErrUnsupportedType = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"UNSUPPORTED_TYPE",
		"不支持的参数类型",
	)

	ErrInvalidMagnitude = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"INVALID_MAGNITUDE",
		"数量级必须在0到77之间",
	)

	ErrNonIntegerResult = apperrors.NewAppError(
		apperrors.ErrorTypeInvalidInput,
		apperrors.SeverityLow,
		"NON_INTEGER_RESULT",
		"换算结果不是整数",
	)

	ErrCallFailed = apperrors.NewAppError(
		apperrors.ErrorTypeExternalAPI,
		apperrors.SeverityMedium,
		"CONTRACT_CALL_FAILED",
		"合约调用失败",
	)
)

// argumentError 带参数位置的转换错误
func argumentError(index int, name, typ string, cause error) *apperrors.AppError {
	return apperrors.Wrap(ErrInvalidArgument, cause).
		WithContext("index", index).
		WithContext("name", name).
		WithContext("type", typ)
}
