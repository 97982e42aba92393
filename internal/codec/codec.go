package codec

import (
	"strings"

	apperrors "abiscope/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DecodedArg 解码后的参数
type DecodedArg struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DecodedCall 解码后的调用
type DecodedCall struct {
	Function *Function    `json:"function"`
	Args     []DecodedArg `json:"args"`
}

// Values 按顺序返回参数值
func (dc *DecodedCall) Values() []string {
	values := make([]string, len(dc.Args))
	for i, arg := range dc.Args {
		values[i] = arg.Value
	}
	return values
}

// Encode 编码可提交的调用数据：选择器 ‖ 打包参数；view/pure函数被拒绝
func Encode(fn *Function, args []string) ([]byte, error) {
	if fn.IsReadOnly() {
		return nil, apperrors.New(ErrReadOnlyFunction).WithContext("function", fn.Signature)
	}
	return Calldata(fn, args)
}

// Calldata 不检查可变性的编码，供只读调用使用
func Calldata(fn *Function, args []string) ([]byte, error) {
	inputs := fn.method.Inputs
	if len(args) != len(inputs) {
		return nil, apperrors.New(ErrArgumentCount).
			WithContext("function", fn.Signature).
			WithContext("expected", len(inputs)).
			WithContext("actual", len(args))
	}

	values, err := coerceArgs(inputs, args)
	if err != nil {
		return nil, err
	}

	packed, err := inputs.Pack(values...)
	if err != nil {
		return nil, apperrors.Wrap(ErrInvalidArgument, err).WithContext("function", fn.Signature)
	}

	data := make([]byte, 0, 4+len(packed))
	data = append(data, fn.method.ID...)
	return append(data, packed...), nil
}

func coerceArgs(inputs abi.Arguments, args []string) ([]interface{}, error) {
	values := make([]interface{}, len(inputs))
	for i, input := range inputs {
		v, err := Coerce(input.Type, args[i])
		if err != nil {
			if apperrors.Is(err, ErrUnsupportedType) {
				return nil, err
			}
			return nil, argumentError(i, input.Name, input.Type.String(), err)
		}
		values[i] = v
	}
	return values, nil
}

// Decode 根据前4字节匹配函数并解码参数；无匹配时返回ErrNoMatchingFunction
func Decode(iface *ContractInterface, data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, apperrors.New(ErrNoMatchingFunction).WithContext("length", len(data))
	}

	selector := hexutil.Encode(data[:4])
	fn, ok := iface.FunctionBySelector(selector)
	if !ok {
		return nil, apperrors.New(ErrNoMatchingFunction).WithContext("selector", selector)
	}

	args, err := unpackArgs(fn.method.Inputs, data[4:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidHex, err).WithContext("function", fn.Signature)
	}

	return &DecodedCall{Function: fn, Args: args}, nil
}

// DecodeHex 解码0x前缀的调用数据
func DecodeHex(iface *ContractInterface, data string) (*DecodedCall, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidHex, err)
	}
	return Decode(iface, raw)
}

// unpackArgs 解包并格式化为规范字符串
func unpackArgs(args abi.Arguments, data []byte) ([]DecodedArg, error) {
	values, err := args.Unpack(data)
	if err != nil {
		return nil, err
	}

	out := make([]DecodedArg, len(args))
	for i, arg := range args {
		s, err := Format(arg.Type, values[i])
		if err != nil {
			return nil, err
		}
		out[i] = DecodedArg{Name: arg.Name, Type: arg.Type.String(), Value: s}
	}
	return out, nil
}
