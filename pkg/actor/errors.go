package actor

import (
	"errors"
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// 哨兵错误
// ═══════════════════════════════════════════════════════════════════════════

var (
	// ErrPortClosed 回复端口已被使用、已释放或不存在
	ErrPortClosed = errors.New("reply port closed")
	// ErrNoReplyPort 调用式消息缺少回复端口
	ErrNoReplyPort = errors.New("message has no reply port")
	// ErrMailboxFull 有界邮箱已满
	ErrMailboxFull = errors.New("mailbox full")
	// ErrMailboxClosed 邮箱已关闭
	ErrMailboxClosed = errors.New("mailbox closed")
	// ErrActorExists 同名 Actor 已存在
	ErrActorExists = errors.New("actor already exists")
	// ErrActorNotFound Actor 不存在
	ErrActorNotFound = errors.New("actor not found")
	// ErrProcStopped Proc 已停止
	ErrProcStopped = errors.New("proc stopped")
	// ErrUnknownKind 注册表中没有此消息类型或 Actor 类型
	ErrUnknownKind = errors.New("unknown kind")
	// ErrInvalidName 非法的 Actor 名称
	ErrInvalidName = errors.New("invalid actor name")
)

// ═══════════════════════════════════════════════════════════════════════════
// 错误分类
// ═══════════════════════════════════════════════════════════════════════════

// AllocationError 进程分配或 Actor 创建失败
//
// 分配是原子的：返回此错误时，已创建的部分都已回收。
type AllocationError struct {
	// Op 失败的操作，例如 "allocate"、"spawn"
	Op string
	// Rank 失败的 rank，未知时为 -1
	Rank int
	Err  error
}

// Error 实现 error 接口
func (e *AllocationError) Error() string {
	if e.Rank >= 0 {
		return fmt.Sprintf("%s failed at rank %d: %v", e.Op, e.Rank, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap 返回内部错误
func (e *AllocationError) Unwrap() error { return e.Err }

// AuthorizationError 调用方缺少所需能力
type AuthorizationError struct {
	Holder string
	Need   string
}

// Error 实现 error 接口
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s lacks capability %q", e.Holder, e.Need)
}

// CardinalityError 目标数量不符合要求
type CardinalityError struct {
	Expected int
	Actual   int
}

// Error 实现 error 接口
func (e *CardinalityError) Error() string {
	return fmt.Sprintf("expected %d target(s), handle addresses %d", e.Expected, e.Actual)
}

// DeliveryError 消息无法投递到目标
type DeliveryError struct {
	Dest string
	Kind string
	Err  error
}

// Error 实现 error 接口
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Kind, e.Dest, e.Err)
}

// Unwrap 返回内部错误
func (e *DeliveryError) Unwrap() error { return e.Err }

// HandlerError 目标 Actor 的处理函数返回错误或 panic
type HandlerError struct {
	Actor string
	Kind  string
	Err   error
	// Panic 非 nil 时表示处理函数 panic 的值
	Panic any
	Stack []byte
}

// Error 实现 error 接口
func (e *HandlerError) Error() string {
	who := e.Actor
	if who == "" {
		who = "handler"
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s failed handling %s: %v", who, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", who, e.Err)
}

// Unwrap 返回内部错误
func (e *HandlerError) Unwrap() error { return e.Err }

// AbandonmentError 回复端口在完成前被放弃
//
// 两种来源：对端显式 Drop，或在超时时间内没有收到回复。
type AbandonmentError struct {
	Port    string
	Timeout time.Duration
	Dropped bool
	Err     error
}

// Error 实现 error 接口
func (e *AbandonmentError) Error() string {
	if e.Dropped {
		return fmt.Sprintf("reply port %s dropped by responder", e.Port)
	}
	if e.Timeout > 0 {
		return fmt.Sprintf("reply port %s abandoned after %v", e.Port, e.Timeout)
	}
	return fmt.Sprintf("reply port %s abandoned: %v", e.Port, e.Err)
}

// Unwrap 返回内部错误
func (e *AbandonmentError) Unwrap() error { return e.Err }
