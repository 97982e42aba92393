package models

import (
	"math/big"
	"strings"
	"time"
)

// TransactionRecord 区块浏览器返回的历史交易记录
type TransactionRecord struct {
	Hash         string    `json:"hash"`
	BlockNumber  uint64    `json:"block_number"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Value        string    `json:"value"` // wei，十进制字符串
	Input        string    `json:"input"`
	MethodID     string    `json:"method_id"`     // 0x + 8位十六进制
	FunctionName string    `json:"function_name"` // 浏览器给出的函数签名，可能为空
	Timestamp    time.Time `json:"timestamp"`
	IsError      bool      `json:"is_error"`
}

// HasMethod 判断交易的方法ID是否与选择器匹配（忽略大小写）
func (t *TransactionRecord) HasMethod(selector string) bool {
	if len(t.MethodID) < 10 || len(selector) < 10 {
		return false
	}
	return strings.EqualFold(t.MethodID[:10], selector[:10])
}

// ValueWei 返回交易金额，无法解析时返回0
func (t *TransactionRecord) ValueWei() *big.Int {
	v, ok := new(big.Int).SetString(t.Value, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// IsContractCall 是否携带调用数据
func (t *TransactionRecord) IsContractCall() bool {
	return len(strings.TrimPrefix(t.Input, "0x")) >= 8
}
