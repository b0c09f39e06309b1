// Package transport 提供 Proc 之间的消息投递通道
//
// 每个 Proc 持有一个 [Transport]：Start 时绑定地址并注册入站处理函数，
// Send 把 [Envelope] 投递到目标地址并等待对端确认接收（不是处理完成）。
//
// 内置实现:
//   - [LocalNetwork]：进程内注册表，Send 同步调用对端 Handler，用于测试和单机 mesh
//   - [QUICTransport]：HTTP/3 over QUIC，POST /v1/deliver
//
// 同一个发送者的顺序发送按发送顺序被对端确认，这是 mailbox 保序的基础。
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnreachable 目标地址不存在或无法连接
	ErrUnreachable = errors.New("address unreachable")
	// ErrRejected 对端拒绝了投递
	ErrRejected = errors.New("delivery rejected")
	// ErrStopped 传输已停止
	ErrStopped = errors.New("transport stopped")
)

// Handler 入站消息处理函数
// 返回 nil 表示对端已接收（已入队），否则为拒绝原因
type Handler func(ctx context.Context, env *Envelope) error

// Transport 消息传输接口
type Transport interface {
	// Start 绑定地址并开始接收，addr 为空时由实现选择地址
	Start(addr string, h Handler) error
	// Address 返回实际绑定的地址
	Address() string
	// Send 投递信封到目标地址，返回时对端已确认接收
	Send(ctx context.Context, to string, env *Envelope) error
	// Stop 停止接收并释放资源
	Stop() error
}

// Factory 为每个 Proc 创建独立的 Transport
type Factory func() Transport

// SendError 投递失败
type SendError struct {
	To     string
	Status int
	Err    error
}

// Error 实现 error 接口
func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("send to %s failed (status %d): %v", e.To, e.Status, e.Err)
	}
	return fmt.Sprintf("send to %s failed: %v", e.To, e.Err)
}

// Unwrap 返回内部错误
func (e *SendError) Unwrap() error { return e.Err }
