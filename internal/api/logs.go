package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 内存中的最近日志，超过容量时丢弃最旧的
type LogManager struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogManager 创建日志管理器
func NewLogManager(capacity int) *LogManager {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogManager{entries: make([]LogEntry, capacity)}
}

// Add 记录一条日志
func (lm *LogManager) Add(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	var component string
	for k, v := range entry.Data {
		if k == "component" {
			component, _ = v.(string)
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.entries[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Component: component,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % len(lm.entries)
	if lm.next == 0 {
		lm.full = true
	}
}

// ordered 按时间从新到旧
func (lm *LogManager) ordered(level string) []LogEntry {
	count := lm.next
	if lm.full {
		count = len(lm.entries)
	}

	out := make([]LogEntry, 0, count)
	for i := 1; i <= count; i++ {
		idx := (lm.next - i + len(lm.entries)) % len(lm.entries)
		if level != "" && lm.entries[idx].Level != level {
			continue
		}
		out = append(out, lm.entries[idx])
	}
	return out
}

// Page 分页获取日志，最新的在前
func (lm *LogManager) Page(level string, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	all := lm.ordered(level)
	lm.mu.RUnlock()

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total
}

// Clear 清空日志
func (lm *LogManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.entries = make([]LogEntry, len(lm.entries))
	lm.next = 0
	lm.full = false
}

// LogHook 把logrus日志写入LogManager
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.Add(entry)
	return nil
}

// Levels 调试日志不进入缓冲区
func (h *LogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}
