package search

import (
	"context"
	"sync"

	apperrors "abiscope/internal/errors"
	"abiscope/pkg/models"
)

// ErrSuperseded 查询被更新的查询取代
var ErrSuperseded = apperrors.NewAppError(
	apperrors.ErrorTypeAborted,
	apperrors.SeverityLow,
	"SEARCH_SUPERSEDED",
	"搜索已被新的查询取代",
)

// Source 搜索数据源
type Source interface {
	Search(ctx context.Context, query string) ([]models.ContractSearchResult, error)
}

// Tracker 只保留最新一次查询：新查询会取消仍在进行的旧查询
type Tracker struct {
	source Source

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	latest []models.ContractSearchResult
	query  string
}

// NewTracker 创建跟踪器
func NewTracker(source Source) *Tracker {
	return &Tracker{source: source, latest: []models.ContractSearchResult{}}
}

// Search 执行查询；被取代的调用返回 ErrSuperseded，且不会覆盖最新结果
func (t *Tracker) Search(ctx context.Context, query string) ([]models.ContractSearchResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.seq++
	id := t.seq
	t.cancel = cancel
	t.mu.Unlock()

	results, err := t.source.Search(ctx, query)

	t.mu.Lock()
	defer t.mu.Unlock()

	if id != t.seq {
		return nil, apperrors.New(ErrSuperseded).WithContext("query", query)
	}
	t.cancel = nil
	if err != nil {
		return nil, err
	}

	t.latest = results
	t.query = query
	return results, nil
}

// Latest 最近一次完成的查询及其结果
func (t *Tracker) Latest() (string, []models.ContractSearchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.query, t.latest
}

// Cancel 取消进行中的查询
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.seq++
}
