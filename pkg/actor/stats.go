package actor

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Actor 统计信息
// ═══════════════════════════════════════════════════════════════════════════

// ActorStats Actor 实例运行时统计
type ActorStats struct {
	// 消息计数
	MessagesReceived int64            // 出队的消息总数
	MessagesHandled  int64            // 处理成功的消息数
	Errors           int64            // 处理失败（错误或 panic）的消息数
	ByKind           map[string]int64 // 按消息类型计数

	// 延迟统计
	TotalLatency   time.Duration
	AverageLatency time.Duration
	MaxLatency     time.Duration

	// 时间戳
	StartedAt     time.Time
	LastMessageAt time.Time
	LastErrorAt   time.Time

	LastError error
}

// Clone 克隆统计信息（线程安全的快照）
func (s *ActorStats) Clone() *ActorStats {
	c := *s
	c.ByKind = maps.Clone(s.ByKind)
	return &c
}

// ═══════════════════════════════════════════════════════════════════════════
// StatsCollector 统计收集器
// ═══════════════════════════════════════════════════════════════════════════

// StatsCollector 线程安全的单实例统计收集器
type StatsCollector struct {
	mu    sync.RWMutex
	stats ActorStats
}

// NewStatsCollector 创建统计收集器
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		stats: ActorStats{
			StartedAt: time.Now(),
			ByKind:    make(map[string]int64),
		},
	}
}

// RecordReceived 记录出队消息
func (c *StatsCollector) RecordReceived(kind string) {
	c.mu.Lock()
	c.stats.MessagesReceived++
	c.stats.ByKind[kind]++
	c.stats.LastMessageAt = time.Now()
	c.mu.Unlock()
}

// RecordHandled 记录处理成功
func (c *StatsCollector) RecordHandled(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.MessagesHandled++
	c.record(latency)
}

// RecordError 记录处理失败
func (c *StatsCollector) RecordError(err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Errors++
	c.stats.LastError = err
	c.stats.LastErrorAt = time.Now()
	c.record(latency)
}

func (c *StatsCollector) record(latency time.Duration) {
	c.stats.TotalLatency += latency
	if n := c.stats.MessagesHandled + c.stats.Errors; n > 0 {
		c.stats.AverageLatency = c.stats.TotalLatency / time.Duration(n)
	}
	if latency > c.stats.MaxLatency {
		c.stats.MaxLatency = latency
	}
}

// Stats 获取统计快照
func (c *StatsCollector) Stats() *ActorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.Clone()
}

// ═══════════════════════════════════════════════════════════════════════════
// Proc 统计
// ═══════════════════════════════════════════════════════════════════════════

// ProcStats Proc 级统计快照
type ProcStats struct {
	Actors      int
	Sessions    int
	Delivered   int64 // 成功入队或完成端口的入站帧
	Rejected    int64 // 被拒绝的入站帧（邮箱满、已关闭、端口已关闭等）
	DeadLetters int64 // 找不到目标邮箱的入站帧
	Failures    int64 // 处理函数失败次数
	StartedAt   time.Time
}

// procCounters Proc 内部原子计数
type procCounters struct {
	delivered   atomic.Int64
	rejected    atomic.Int64
	deadLetters atomic.Int64
	failures    atomic.Int64
	startedAt   time.Time
}
