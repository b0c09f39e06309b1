package actor

import (
	"fmt"
	"time"
)

// PartialFailurePolicy mesh 调用中部分目标失败时的处理策略
type PartialFailurePolicy string

const (
	// PerTarget 每个目标独立成功或失败，调用方拿到完整结果
	PerTarget PartialFailurePolicy = "per_target"
	// AbortAll 任一目标失败即取消其余目标并返回错误
	AbortAll PartialFailurePolicy = "abort_all"
)

// Policy 运行时背压与超时策略
type Policy struct {
	// MaxQueueDepth 邮箱最大深度，0 表示无界
	MaxQueueDepth int `koanf:"max_queue_depth" json:"max_queue_depth"`
	// CallTimeout 调用式消息等待回复的超时，0 表示只受调用方 context 约束
	CallTimeout time.Duration `koanf:"call_timeout" json:"call_timeout"`
	// PartialFailure mesh 调用的部分失败策略
	PartialFailure PartialFailurePolicy `koanf:"partial_failure_policy" json:"partial_failure_policy"`
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxQueueDepth:  0,
		CallTimeout:    30 * time.Second,
		PartialFailure: PerTarget,
	}
}

// Validate 校验策略
func (p Policy) Validate() error {
	if p.MaxQueueDepth < 0 {
		return fmt.Errorf("max_queue_depth must be >= 0, got %d", p.MaxQueueDepth)
	}
	if p.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must be >= 0, got %v", p.CallTimeout)
	}
	switch p.PartialFailure {
	case PerTarget, AbortAll:
	default:
		return fmt.Errorf("unknown partial_failure_policy %q", p.PartialFailure)
	}
	return nil
}
