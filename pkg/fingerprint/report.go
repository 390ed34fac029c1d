package fingerprint

import (
	"sync"
	"time"
)

// DebugReportEntry：报告中的单个事件
type DebugReportEntry struct {
	E    int       `json:"e"`
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

// DebugReport：一组连续的调试事件
type DebugReport struct {
	StartedAt time.Time          `json:"startedAt"`
	Events    []DebugReportEntry `json:"events"`
}

const defaultReportMaxEvents = 100

// DebugReportBuilder：把调试事件按流程归组为报告
// 约束：遇到终结事件（get_done/get_fail/load_fail）或事件数达到上限时提交报告；并发安全。
type DebugReportBuilder struct {
	mu        sync.Mutex
	handle    func(DebugReport) error
	maxEvents int
	cur       *DebugReport
	now       func() time.Time
}

func NewDebugReportBuilder(handle func(DebugReport) error, maxEvents int) *DebugReportBuilder {
	if maxEvents <= 0 {
		maxEvents = defaultReportMaxEvents
	}
	return &DebugReportBuilder{handle: handle, maxEvents: maxEvents, now: time.Now}
}

// MakeDebugReportBuilder：直接返回输出通道
func MakeDebugReportBuilder(handle func(DebugReport) error) DebugOutput {
	return NewDebugReportBuilder(handle, 0).Output()
}

func (b *DebugReportBuilder) Output() DebugOutput { return b.add }

func (b *DebugReportBuilder) add(event DebugEvent) error {
	b.mu.Lock()
	t := b.now()
	if b.cur == nil {
		b.cur = &DebugReport{StartedAt: t}
	}
	b.cur.Events = append(b.cur.Events, DebugReportEntry{E: event.E, Name: EventName(event.E), At: t})
	var ready *DebugReport
	if isTerminal(event.E) || len(b.cur.Events) >= b.maxEvents {
		ready = b.cur
		b.cur = nil
	}
	b.mu.Unlock()
	if ready == nil || b.handle == nil {
		return nil
	}
	return b.handle(*ready)
}

// Flush：提交尚未结束的报告；没有待提交事件时返回 nil
func (b *DebugReportBuilder) Flush() error {
	b.mu.Lock()
	ready := b.cur
	b.cur = nil
	b.mu.Unlock()
	if ready == nil || b.handle == nil {
		return nil
	}
	return b.handle(*ready)
}
