package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "abiscope/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// 函数可变性
const (
	MutabilityPure       = "pure"
	MutabilityView       = "view"
	MutabilityNonPayable = "nonpayable"
	MutabilityPayable    = "payable"
)

// Param 参数描述
type Param struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Kind       Kind    `json:"kind"`
	Components []Param `json:"components,omitempty"`
}

// Function 函数描述
type Function struct {
	Name       string  `json:"name"`
	Signature  string  `json:"signature"`
	Selector   string  `json:"selector"`
	Mutability string  `json:"stateMutability"`
	Inputs     []Param `json:"inputs"`
	Outputs    []Param `json:"outputs"`

	method abi.Method
}

// IsReadOnly view/pure函数只读
func (f *Function) IsReadOnly() bool {
	return f.Mutability == MutabilityView || f.Mutability == MutabilityPure
}

// IsPayable 是否可以附带金额
func (f *Function) IsPayable() bool {
	return f.Mutability == MutabilityPayable
}

// Method 底层ABI方法
func (f *Function) Method() abi.Method {
	return f.method
}

// Event 事件描述
type Event struct {
	Name      string  `json:"name"`
	Signature string  `json:"signature"`
	Topic     string  `json:"topic"`
	Anonymous bool    `json:"anonymous"`
	Inputs    []Param `json:"inputs"`
}

// ContractInterface 合约接口，获取后不可变
type ContractInterface struct {
	ABI       abi.ABI         `json:"-"`
	Raw       json.RawMessage `json:"abi"`
	Functions []*Function     `json:"functions"`
	Events    []*Event        `json:"events"`
	Skipped   []string        `json:"skipped,omitempty"` // 含不支持参数类型的函数签名

	bySelector map[string]*Function
}

// ParseABI 解析JSON格式的ABI，函数与事件保持原始顺序
func ParseABI(raw []byte) (*ContractInterface, error) {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("解析ABI失败: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("解析ABI条目失败: %w", err)
	}

	iface := &ContractInterface{
		ABI:        parsed,
		Raw:        append(json.RawMessage(nil), raw...),
		bySelector: make(map[string]*Function),
	}

	for _, entry := range entries {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(entry, &head); err != nil {
			return nil, fmt.Errorf("解析ABI条目失败: %w", err)
		}

		switch head.Type {
		case "function", "":
			method, err := locateMethod(parsed, entry)
			if err != nil {
				return nil, err
			}
			fn, err := newFunction(method)
			if apperrors.Is(err, ErrUnsupportedType) {
				iface.Skipped = append(iface.Skipped, method.Sig)
				continue
			}
			if err != nil {
				return nil, err
			}
			iface.Functions = append(iface.Functions, fn)
			iface.bySelector[fn.Selector] = fn
		case "event":
			event, err := locateEvent(parsed, entry)
			if err != nil {
				return nil, err
			}
			ev, err := newEvent(event)
			if apperrors.Is(err, ErrUnsupportedType) {
				iface.Skipped = append(iface.Skipped, event.Sig)
				continue
			}
			if err != nil {
				return nil, err
			}
			iface.Events = append(iface.Events, ev)
		}
	}

	return iface, nil
}

// locateMethod 单独解析一个条目以得到选择器，再从完整ABI中取出（重载函数会被重命名）
func locateMethod(full abi.ABI, entry json.RawMessage) (abi.Method, error) {
	single, err := abi.JSON(bytes.NewReader(wrapEntry(entry)))
	if err != nil {
		return abi.Method{}, fmt.Errorf("解析函数条目失败: %w", err)
	}
	for _, m := range single.Methods {
		method, err := full.MethodById(m.ID)
		if err != nil {
			return abi.Method{}, fmt.Errorf("定位函数 %s 失败: %w", m.Sig, err)
		}
		return *method, nil
	}
	return abi.Method{}, fmt.Errorf("函数条目为空")
}

// locateEvent 同上，用于事件
func locateEvent(full abi.ABI, entry json.RawMessage) (abi.Event, error) {
	single, err := abi.JSON(bytes.NewReader(wrapEntry(entry)))
	if err != nil {
		return abi.Event{}, fmt.Errorf("解析事件条目失败: %w", err)
	}
	for _, e := range single.Events {
		event, err := full.EventByID(e.ID)
		if err != nil {
			return abi.Event{}, fmt.Errorf("定位事件 %s 失败: %w", e.Sig, err)
		}
		return *event, nil
	}
	return abi.Event{}, fmt.Errorf("事件条目为空")
}

func wrapEntry(entry json.RawMessage) []byte {
	buf := make([]byte, 0, len(entry)+2)
	buf = append(buf, '[')
	buf = append(buf, entry...)
	return append(buf, ']')
}

func newFunction(method abi.Method) (*Function, error) {
	inputs, err := newParams(method.Inputs)
	if err != nil {
		return nil, fmt.Errorf("函数 %s: %w", method.Sig, err)
	}
	outputs, err := newParams(method.Outputs)
	if err != nil {
		return nil, fmt.Errorf("函数 %s: %w", method.Sig, err)
	}

	return &Function{
		Name:       method.RawName,
		Signature:  method.Sig,
		Selector:   hexutil.Encode(method.ID),
		Mutability: mutabilityOf(method),
		Inputs:     inputs,
		Outputs:    outputs,
		method:     method,
	}, nil
}

func newEvent(event abi.Event) (*Event, error) {
	inputs, err := newParams(event.Inputs)
	if err != nil {
		return nil, fmt.Errorf("事件 %s: %w", event.Sig, err)
	}
	return &Event{
		Name:      event.RawName,
		Signature: event.Sig,
		Topic:     event.ID.Hex(),
		Anonymous: event.Anonymous,
		Inputs:    inputs,
	}, nil
}

// mutabilityOf 兼容旧版ABI的constant/payable字段
func mutabilityOf(method abi.Method) string {
	switch method.StateMutability {
	case MutabilityPure, MutabilityView, MutabilityNonPayable, MutabilityPayable:
		return method.StateMutability
	}
	if method.IsConstant() {
		return MutabilityView
	}
	if method.IsPayable() {
		return MutabilityPayable
	}
	return MutabilityNonPayable
}

func newParams(args abi.Arguments) ([]Param, error) {
	params := make([]Param, 0, len(args))
	for _, arg := range args {
		p, err := newParam(arg.Name, arg.Type)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

func newParam(name string, t abi.Type) (Param, error) {
	kind, err := KindOf(t)
	if err != nil {
		return Param{}, err
	}

	p := Param{Name: name, Type: t.String(), Kind: kind}
	switch kind {
	case KindTuple:
		for i, elem := range t.TupleElems {
			c, err := newParam(t.TupleRawNames[i], *elem)
			if err != nil {
				return Param{}, err
			}
			p.Components = append(p.Components, c)
		}
	case KindArray, KindSlice:
		if _, err := KindOf(*t.Elem); err != nil {
			return Param{}, err
		}
	}
	return p, nil
}

// FunctionBySelector 按选择器查找函数（忽略大小写）
func (ci *ContractInterface) FunctionBySelector(selector string) (*Function, bool) {
	fn, ok := ci.bySelector[strings.ToLower(selector)]
	return fn, ok
}

// FunctionByName 按名称或完整签名查找，重名时返回第一个
func (ci *ContractInterface) FunctionByName(name string) (*Function, bool) {
	for _, fn := range ci.Functions {
		if fn.Signature == name {
			return fn, true
		}
	}
	for _, fn := range ci.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return nil, false
}

// ReadFunctions 只读函数
func (ci *ContractInterface) ReadFunctions() []*Function {
	var out []*Function
	for _, fn := range ci.Functions {
		if fn.IsReadOnly() {
			out = append(out, fn)
		}
	}
	return out
}

// WriteFunctions 可写函数
func (ci *ContractInterface) WriteFunctions() []*Function {
	var out []*Function
	for _, fn := range ci.Functions {
		if !fn.IsReadOnly() {
			out = append(out, fn)
		}
	}
	return out
}
