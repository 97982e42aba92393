package history

import (
	"context"
	"fmt"
	"strconv"

	"abiscope/internal/codec"
	"abiscope/pkg/models"
)

// Filter 选中非view函数时只保留方法ID匹配的交易，结果最多 DisplayLimit 条
func Filter(records []*models.TransactionRecord, selected *codec.Function) []*models.TransactionRecord {
	filtered := make([]*models.TransactionRecord, 0, DisplayLimit)
	for _, record := range records {
		if len(filtered) == DisplayLimit {
			break
		}
		if selected != nil && selected.Mutability != codec.MutabilityView && !record.HasMethod(selected.Selector) {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}

// Labeler 为未知选择器提供可读名称
type Labeler interface {
	Label(ctx context.Context, selector string) string
}

// Annotate 补全函数名：优先使用接口中的函数签名，其次是浏览器返回的名称，最后查询标签服务
func Annotate(ctx context.Context, records []*models.TransactionRecord, iface *codec.ContractInterface, labeler Labeler) {
	for _, record := range records {
		if !record.IsContractCall() {
			continue
		}
		if iface != nil {
			if fn, ok := iface.FunctionBySelector(record.MethodID); ok {
				record.FunctionName = fn.Signature
				continue
			}
		}
		if record.FunctionName != "" || labeler == nil {
			continue
		}
		record.FunctionName = labeler.Label(ctx, record.MethodID)
	}
}

// SelectorColor 由选择器派生的显示颜色，同一选择器颜色固定
func SelectorColor(methodID string) string {
	if len(methodID) < 8 {
		return "rgb(0, 0, 0)"
	}
	hex := methodID[2:8]
	channel := func(s string) int64 {
		v, err := strconv.ParseInt(s, 16, 64)
		if err != nil {
			return 0
		}
		return v % 200
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", channel(hex[0:2]), channel(hex[2:4]), channel(hex[4:6]))
}
