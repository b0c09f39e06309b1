package mesh

import (
	"fmt"
	"time"
)

// EventKind 事件类型
type EventKind string

const (
	// EventProcUp Proc 已启动并通过健康检查
	EventProcUp EventKind = "proc_up"
	// EventProcDown Proc 已停止
	EventProcDown EventKind = "proc_down"
	// EventActorSpawned mesh 成员已创建
	EventActorSpawned EventKind = "actor_spawned"
	// EventActorStopped mesh 成员已停止
	EventActorStopped EventKind = "actor_stopped"
	// EventActorFailed 处理函数返回错误或 panic
	EventActorFailed EventKind = "actor_failed"
)

// ProcEvent Proc 与 Actor 生命周期事件
type ProcEvent struct {
	Kind  EventKind
	Rank  int
	Point string
	// Actor 相关的 Actor 名称，Proc 事件为空
	Actor  string
	Reason string
	At     time.Time
}

// String 返回事件摘要
func (e ProcEvent) String() string {
	s := fmt.Sprintf("%s rank=%d", e.Kind, e.Rank)
	if e.Actor != "" {
		s += " actor=" + e.Actor
	}
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	return s
}
