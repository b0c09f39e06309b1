package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ═══════════════════════════════════════════════════════════════════════════
// 发送与调用
// ═══════════════════════════════════════════════════════════════════════════

// Tell 发送单向消息
// 返回时消息已被目标邮箱接收（不是处理完成）
func Tell(ctx context.Context, cx CanSend, to ActorID, msg Message) error {
	return cx.sendingMailbox().post(ctx, to, msg)
}

// Call 发送调用式消息并等待回复
//
// build 用新打开的回复端口构造消息。等待时间受调用方 ctx 和
// Policy.CallTimeout 约束，超时返回 AbandonmentError。
//
// 用法示例:
//
//	ok, err := actor.Call(ctx, cx, target, func(reply *actor.ReplyPort[bool]) actor.Message {
//		return &Exists{Key: "k", Reply: reply}
//	})
func Call[T any](ctx context.Context, cx CanOpenPort, to ActorID, build func(*ReplyPort[T]) Message) (T, error) {
	var zero T
	mb := cx.portMailbox()

	timeout := mb.proc.config.Policy.CallTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	port, rx := OpenPort[T](cx)
	defer rx.Close()

	if err := mb.post(ctx, to, build(port)); err != nil {
		return zero, err
	}

	v, err := rx.Recv(ctx)
	var ab *AbandonmentError
	if errors.As(err, &ab) && errors.Is(ab.Err, context.DeadlineExceeded) && ab.Timeout == 0 {
		ab.Timeout = timeout
	}
	return v, err
}

// Ask 动态调用路径：运行期检查打开端口的能力后调用 Call
func Ask[T any](ctx context.Context, cx CanSend, to ActorID, build func(*ReplyPort[T]) Message) (T, error) {
	op, err := RequirePortCapability(cx)
	if err != nil {
		var zero T
		return zero, err
	}
	return Call(ctx, op, to, build)
}

// ═══════════════════════════════════════════════════════════════════════════
// 处理函数辅助
// ═══════════════════════════════════════════════════════════════════════════

// Invoke 执行处理函数，把 panic 转换为 HandlerError
func Invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Err: fmt.Errorf("panic: %v", r), Panic: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// InvokeValue 执行有返回值的处理函数，把 panic 转换为 HandlerError
func InvokeValue[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Err: fmt.Errorf("panic: %v", r), Panic: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// CompleteReply 用处理结果完成回复端口
//
// 端口恰好被消耗一次：err 非 nil 时调用方收到 HandlerError。
// 返回值是处理错误与回复投递错误的合并。
func CompleteReply[T any](cx CanSend, port *ReplyPort[T], v T, err error) error {
	if perr := port.Complete(cx, v, err); perr != nil {
		return errors.Join(err, perr)
	}
	return err
}

// ═══════════════════════════════════════════════════════════════════════════
// 通道工具函数
// ═══════════════════════════════════════════════════════════════════════════

// TrySend 尝试非阻塞发送到通道
// 如果通道为 nil 或已满，返回 false
func TrySend[T any](ch chan<- T, value T) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
