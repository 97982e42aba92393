package probe

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc"
)

// ErrRejected 探测完成但结果不可接受（例如零地址）
var ErrRejected = errors.New("探测结果不可接受")

// Probe 一个可独立失败的异步探测
type Probe[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Outcome 单个探测的结果
type Outcome[T any] struct {
	Name  string
	Value T
	Err   error
}

// OK 探测是否成功
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// RunAll 并发运行所有探测并等待全部结束，结果按声明顺序排列
func RunAll[T any](ctx context.Context, probes []Probe[T]) []Outcome[T] {
	outcomes := make([]Outcome[T], len(probes))

	var wg conc.WaitGroup
	for i, p := range probes {
		i, p := i, p
		outcomes[i].Name = p.Name
		wg.Go(func() {
			value, err := p.Run(ctx)
			outcomes[i].Value = value
			outcomes[i].Err = err
		})
	}
	wg.Wait()

	return outcomes
}

// First 并发运行所有探测，按声明优先级返回第一个成功的结果；失败全部忽略
func First[T any](ctx context.Context, probes []Probe[T]) (T, string, bool) {
	for _, o := range RunAll(ctx, probes) {
		if o.OK() {
			return o.Value, o.Name, true
		}
	}
	var zero T
	return zero, "", false
}
