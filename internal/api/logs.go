package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// defaultLogCapacity API 保留的最近日志条数
const defaultLogCapacity = 1000

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Chain     string                 `json:"chain,omitempty"`
	Project   string                 `json:"project,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogQuery 日志查询条件，空字段不过滤
type LogQuery struct {
	Level    string
	Chain    string
	Project  string
	Page     int
	PageSize int
}

func (q LogQuery) match(e *LogEntry) bool {
	return (q.Level == "" || e.Level == q.Level) &&
		(q.Chain == "" || e.Chain == q.Chain) &&
		(q.Project == "" || e.Project == q.Project)
}

// LogBuffer 固定容量的环形日志缓冲，写满后覆盖最旧的条目
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogBuffer 创建日志缓冲
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogBuffer{entries: make([]LogEntry, capacity)}
}

// Append 写入一条logrus日志
func (b *LogBuffer) Append(entry *logrus.Entry) {
	e := LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	// entry.Data 在钩子返回后可能被复用
	for k, v := range entry.Data {
		switch k {
		case "chain":
			e.Chain, _ = v.(string)
			continue
		case "project":
			e.Project, _ = v.(string)
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		if e.Fields == nil {
			e.Fields = make(map[string]interface{}, len(entry.Data))
		}
		e.Fields[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Len 当前保存的条数
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Query 按条件分页查询，最新的在前，返回本页条目和匹配总数
func (b *LogBuffer) Query(q LogQuery) ([]LogEntry, int) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}
	skip := (q.Page - 1) * q.PageSize

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := b.next
	if b.full {
		n = len(b.entries)
	}

	page := []LogEntry{}
	total := 0
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + len(b.entries)) % len(b.entries)
		e := &b.entries[idx]
		if !q.match(e) {
			continue
		}
		if total >= skip && len(page) < q.PageSize {
			page = append(page, *e)
		}
		total++
	}
	return page, total
}

// Clear 清空缓冲
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.next = 0
	b.full = false
}

// Levels 实现 logrus.Hook 接口
func (b *LogBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 实现 logrus.Hook 接口
func (b *LogBuffer) Fire(entry *logrus.Entry) error {
	b.Append(entry)
	return nil
}
