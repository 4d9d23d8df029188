package clock

import (
	"sync"
	"time"
)

// Clock 抽象当前时间，便于测试里控制逻辑过期、秒杀时间窗、ID 时间戳。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real 返回基于 time.Now 的时钟。
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

// Mock 是可手动拨动的时钟，并发安全。
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMock(t time.Time) *Mock { return &Mock{now: t} }

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
