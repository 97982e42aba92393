package codec

import (
	"math/big"
	"strings"

	apperrors "abiscope/internal/errors"

	"github.com/shopspring/decimal"
)

const (
	// MaxMagnitude 10^77 < 2^256 < 10^78
	MaxMagnitude = 77

	// MaxDigits uint256 最多78位十进制数字
	MaxDigits = 78

	// DefaultDecimals 无法获取代币精度时使用
	DefaultDecimals = 18
)

// Scale 将人类可读数值乘以10^magnitude，返回十进制整数字符串
// 支持十进制、科学计数法与0x十六进制输入；负数量级、超过77的数量级与非整数结果均被拒绝
func Scale(value string, magnitude int) (string, error) {
	if magnitude < 0 || magnitude > MaxMagnitude {
		return "", apperrors.New(ErrInvalidMagnitude).WithContext("magnitude", magnitude)
	}

	d, err := parseDecimal(value)
	if err != nil {
		return "", err
	}

	coefficient := d.Coefficient()
	if coefficient.Sign() == 0 {
		return "0", nil
	}

	// 按位数先行判断，避免为极端指数构造巨大整数
	digits := int64(len(new(big.Int).Abs(coefficient).String()))
	intDigits := digits + int64(d.Exponent()) + int64(magnitude)
	if intDigits > MaxDigits {
		return "", apperrors.New(apperrors.ErrInvalidNumber).
			WithContext("value", value).
			WithContext("magnitude", magnitude)
	}
	if intDigits <= 0 {
		return "", apperrors.New(ErrNonIntegerResult).
			WithContext("value", value).
			WithContext("magnitude", magnitude)
	}

	scaled := d.Shift(int32(magnitude))
	if !scaled.IsInteger() {
		return "", apperrors.New(ErrNonIntegerResult).
			WithContext("value", value).
			WithContext("magnitude", magnitude)
	}
	return scaled.BigInt().String(), nil
}

func parseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Decimal{}, apperrors.New(apperrors.ErrInvalidNumber).WithContext("value", value)
	}

	if has0xPrefix(strings.TrimPrefix(value, "-")) {
		n, err := ParseInteger(value)
		if err != nil {
			return decimal.Decimal{}, apperrors.Wrap(apperrors.ErrInvalidNumber, err).WithContext("value", value)
		}
		return decimal.NewFromBigInt(n, 0), nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, apperrors.Wrap(apperrors.ErrInvalidNumber, err).WithContext("value", value)
	}
	return d, nil
}
