package codec

import (
	"fmt"

	apperrors "abiscope/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Kind 参数类型标签，每种标签对应一个转换函数
type Kind int

const (
	KindAddress Kind = iota
	KindBool
	KindUint
	KindInt
	KindString
	KindBytes
	KindFixedBytes
	KindArray
	KindSlice
	KindTuple
)

var kindNames = map[Kind]string{
	KindAddress:    "address",
	KindBool:       "bool",
	KindUint:       "uint",
	KindInt:        "int",
	KindString:     "string",
	KindBytes:      "bytes",
	KindFixedBytes: "fixed_bytes",
	KindArray:      "array",
	KindSlice:      "slice",
	KindTuple:      "tuple",
}

// String 返回类型标签名称
func (k Kind) String() string {
	if name, exists := kindNames[k]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", k)
}

// MarshalText JSON中输出为名称
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsComposite 复合类型以JSON数组/对象形式输入
func (k Kind) IsComposite() bool {
	return k == KindArray || k == KindSlice || k == KindTuple
}

// IsNumeric 可以进行数量级换算的类型
func (k Kind) IsNumeric() bool {
	return k == KindUint || k == KindInt
}

// KindOf 将ABI类型映射为类型标签，函数指针与定点数等类型不支持
func KindOf(t abi.Type) (Kind, error) {
	switch t.T {
	case abi.AddressTy:
		return KindAddress, nil
	case abi.BoolTy:
		return KindBool, nil
	case abi.UintTy:
		return KindUint, nil
	case abi.IntTy:
		return KindInt, nil
	case abi.StringTy:
		return KindString, nil
	case abi.BytesTy:
		return KindBytes, nil
	case abi.FixedBytesTy:
		return KindFixedBytes, nil
	case abi.ArrayTy:
		return KindArray, nil
	case abi.SliceTy:
		return KindSlice, nil
	case abi.TupleTy:
		return KindTuple, nil
	default:
		return 0, apperrors.New(ErrUnsupportedType).WithContext("type", t.String())
	}
}
