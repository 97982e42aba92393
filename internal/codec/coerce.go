package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Coerce 将字符串参数转换为ABI类型对应的Go值
func Coerce(t abi.Type, raw string) (interface{}, error) {
	v, err := coerce(t, raw)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func coerce(t abi.Type, raw string) (reflect.Value, error) {
	kind, err := KindOf(t)
	if err != nil {
		return reflect.Value{}, err
	}

	switch kind {
	case KindAddress:
		return coerceAddress(raw)
	case KindBool:
		return coerceBool(raw)
	case KindUint, KindInt:
		return coerceInteger(t, kind, raw)
	case KindString:
		return reflect.ValueOf(raw), nil
	case KindBytes:
		return coerceBytes(raw)
	case KindFixedBytes:
		return coerceFixedBytes(t, raw)
	case KindArray, KindSlice:
		return coerceList(t, kind, raw)
	case KindTuple:
		return coerceTuple(t, raw)
	}
	return reflect.Value{}, fmt.Errorf("未处理的类型标签: %s", kind)
}

func coerceAddress(raw string) (reflect.Value, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) || !has0xPrefix(raw) {
		return reflect.Value{}, fmt.Errorf("无效的地址: %q", raw)
	}
	return reflect.ValueOf(common.HexToAddress(raw)), nil
}

func coerceBool(raw string) (reflect.Value, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1":
		return reflect.ValueOf(true), nil
	case "false", "0":
		return reflect.ValueOf(false), nil
	}
	return reflect.Value{}, fmt.Errorf("布尔值只能是 true/false/1/0: %q", raw)
}

// ParseInteger 解析十进制或0x十六进制整数
func ParseInteger(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("数值为空")
	}

	negative := strings.HasPrefix(raw, "-")
	digits := strings.TrimPrefix(raw, "-")

	n := new(big.Int)
	var ok bool
	if has0xPrefix(digits) {
		_, ok = n.SetString(digits[2:], 16)
	} else {
		_, ok = n.SetString(digits, 10)
	}
	if !ok {
		return nil, fmt.Errorf("无效的整数: %q", raw)
	}
	if negative {
		n.Neg(n)
	}
	return n, nil
}

func coerceInteger(t abi.Type, kind Kind, raw string) (reflect.Value, error) {
	n, err := ParseInteger(raw)
	if err != nil {
		return reflect.Value{}, err
	}

	if kind == KindUint {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return reflect.Value{}, fmt.Errorf("%s 超出范围: %s", t.String(), n.String())
		}
	} else {
		magnitude := n
		if n.Sign() < 0 {
			magnitude = new(big.Int).Add(n, big.NewInt(1))
		}
		if magnitude.BitLen() > t.Size-1 {
			return reflect.Value{}, fmt.Errorf("%s 超出范围: %s", t.String(), n.String())
		}
	}

	// 8/16/32/64位整数使用Go原生类型，其余使用*big.Int
	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return reflect.ValueOf(n), nil
	}
	if kind == KindUint {
		return reflect.ValueOf(n.Uint64()).Convert(goType), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType), nil
}

func coerceBytes(raw string) (reflect.Value, error) {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return reflect.Value{}, fmt.Errorf("无效的十六进制字节: %w", err)
	}
	return reflect.ValueOf(b), nil
}

func coerceFixedBytes(t abi.Type, raw string) (reflect.Value, error) {
	b, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return reflect.Value{}, fmt.Errorf("无效的十六进制字节: %w", err)
	}
	if len(b) != t.Size {
		return reflect.Value{}, fmt.Errorf("%s 需要 %d 字节，实际 %d 字节", t.String(), t.Size, len(b))
	}

	arr := reflect.New(t.GetType()).Elem()
	reflect.Copy(arr, reflect.ValueOf(b))
	return arr, nil
}

// splitList 解析JSON数组，字符串元素去掉引号，其余保留原文
func splitList(raw string) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &items); err != nil {
		return nil, fmt.Errorf("需要JSON数组: %w", err)
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = unquote(item)
	}
	return out, nil
}

func unquote(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s
	}
	return string(item)
}

func coerceList(t abi.Type, kind Kind, raw string) (reflect.Value, error) {
	items, err := splitList(raw)
	if err != nil {
		return reflect.Value{}, err
	}

	var list reflect.Value
	if kind == KindArray {
		if len(items) != t.Size {
			return reflect.Value{}, fmt.Errorf("%s 需要 %d 个元素，实际 %d 个", t.String(), t.Size, len(items))
		}
		list = reflect.New(t.GetType()).Elem()
	} else {
		list = reflect.MakeSlice(t.GetType(), len(items), len(items))
	}

	for i, item := range items {
		v, err := coerce(*t.Elem, item)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("第 %d 个元素: %w", i, err)
		}
		list.Index(i).Set(v)
	}
	return list, nil
}

// coerceTuple 支持按位置的JSON数组或按字段名的JSON对象
func coerceTuple(t abi.Type, raw string) (reflect.Value, error) {
	raw = strings.TrimSpace(raw)

	var items []string
	if strings.HasPrefix(raw, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return reflect.Value{}, fmt.Errorf("需要JSON对象: %w", err)
		}
		items = make([]string, len(t.TupleElems))
		for i, name := range t.TupleRawNames {
			field, ok := fields[name]
			if !ok {
				return reflect.Value{}, fmt.Errorf("缺少字段 %s", name)
			}
			items[i] = unquote(field)
		}
	} else {
		var err error
		if items, err = splitList(raw); err != nil {
			return reflect.Value{}, err
		}
		if len(items) != len(t.TupleElems) {
			return reflect.Value{}, fmt.Errorf("元组需要 %d 个字段，实际 %d 个", len(t.TupleElems), len(items))
		}
	}

	tuple := reflect.New(t.GetType()).Elem()
	for i, elem := range t.TupleElems {
		v, err := coerce(*elem, items[i])
		if err != nil {
			return reflect.Value{}, fmt.Errorf("字段 %s: %w", t.TupleRawNames[i], err)
		}
		tuple.Field(i).Set(v)
	}
	return tuple, nil
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
