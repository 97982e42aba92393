package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Format 将解码出的Go值格式化为规范字符串，与Coerce互逆
func Format(t abi.Type, value interface{}) (string, error) {
	kind, err := KindOf(t)
	if err != nil {
		return "", err
	}
	rv := reflect.ValueOf(value)
	if kind.IsComposite() {
		raw, err := formatJSON(t, rv)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return formatScalar(t, kind, rv)
}

func formatScalar(t abi.Type, kind Kind, rv reflect.Value) (string, error) {
	switch kind {
	case KindAddress:
		addr, ok := rv.Interface().(common.Address)
		if !ok {
			return "", fmt.Errorf("期望地址类型，实际 %s", rv.Type())
		}
		return addr.Hex(), nil
	case KindBool:
		return strconv.FormatBool(rv.Bool()), nil
	case KindUint, KindInt:
		switch rv.Kind() {
		case reflect.Ptr:
			n, ok := rv.Interface().(*big.Int)
			if !ok {
				return "", fmt.Errorf("期望*big.Int，实际 %s", rv.Type())
			}
			return n.String(), nil
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return strconv.FormatUint(rv.Uint(), 10), nil
		default:
			return strconv.FormatInt(rv.Int(), 10), nil
		}
	case KindString:
		return rv.String(), nil
	case KindBytes:
		return hexutil.Encode(rv.Bytes()), nil
	case KindFixedBytes:
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b), nil
	}
	return "", fmt.Errorf("%s 不是标量类型", t.String())
}

// formatJSON 复合类型输出为JSON，标量元素为字符串
func formatJSON(t abi.Type, rv reflect.Value) (json.RawMessage, error) {
	kind, err := KindOf(t)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindArray, KindSlice:
		items := make([]json.RawMessage, rv.Len())
		for i := range items {
			if items[i], err = formatJSON(*t.Elem, rv.Index(i)); err != nil {
				return nil, err
			}
		}
		return json.Marshal(items)
	case KindTuple:
		items := make([]json.RawMessage, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			if items[i], err = formatJSON(*elem, rv.Field(i)); err != nil {
				return nil, err
			}
		}
		return json.Marshal(items)
	}

	s, err := formatScalar(t, kind, rv)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// FormatUnits 按小数位数格式化整数金额
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// FormatEther 将wei格式化为ether
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, 18)
}
