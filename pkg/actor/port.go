package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// portReplyKind 回复帧的消息类型
const portReplyKind = "actor.port_reply"

// PortID 回复端口地址：所属邮箱 + 端口序号
type PortID struct {
	Actor ActorID `json:"actor"`
	Index uint64  `json:"index"`
}

// String 返回 actor#index
func (p PortID) String() string {
	return fmt.Sprintf("%s#%d", p.Actor, p.Index)
}

// PortState 端口状态
type PortState int

const (
	// PortOpen 等待回复
	PortOpen PortState = iota
	// PortFulfilled 已收到值
	PortFulfilled
	// PortFailed 已收到失败
	PortFailed
	// PortAbandoned 已被放弃（显式 Drop、超时、取消或邮箱关闭）
	PortAbandoned
)

// String 返回状态名称
func (s PortState) String() string {
	switch s {
	case PortOpen:
		return "open"
	case PortFulfilled:
		return "fulfilled"
	case PortFailed:
		return "failed"
	case PortAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("PortState(%d)", int(s))
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 端口槽（接收方）
// ═══════════════════════════════════════════════════════════════════════════

type portResult struct {
	value any
	err   error
}

// portSlot 单次写入的结果槽
type portSlot struct {
	mu     sync.Mutex
	state  PortState
	result chan portResult
	decode func(json.RawMessage) (any, error)
}

func (s *portSlot) complete(res portResult, state PortState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != PortOpen {
		return ErrPortClosed
	}
	s.state = state
	s.result <- res
	return nil
}

func (s *portSlot) currentState() PortState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ═══════════════════════════════════════════════════════════════════════════
// 回复帧
// ═══════════════════════════════════════════════════════════════════════════

// portReply 回复帧内容；进程内直接传递，跨进程时编码为 wirePortReply
type portReply struct {
	Value     any
	Err       error
	Abandoned bool
}

type wireError struct {
	Actor   string `json:"actor,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type wirePortReply struct {
	Value     json.RawMessage `json:"value,omitempty"`
	Error     *wireError      `json:"error,omitempty"`
	Abandoned bool            `json:"abandoned,omitempty"`
}

// MarshalJSON 编码为线上格式
func (r *portReply) MarshalJSON() ([]byte, error) {
	w := wirePortReply{Abandoned: r.Abandoned}
	switch {
	case r.Err != nil:
		w.Error = &wireError{Message: r.Err.Error()}
		var he *HandlerError
		if errors.As(r.Err, &he) {
			w.Error = &wireError{Actor: he.Actor, Kind: he.Kind, Message: he.Err.Error()}
		}
	case !r.Abandoned:
		b, err := json.Marshal(r.Value)
		if err != nil {
			return nil, fmt.Errorf("encode reply value: %w", err)
		}
		w.Value = b
	}
	return json.Marshal(w)
}

// decodeReply 把回复帧转换为端口结果
func decodeReply(port string, env *transport.Envelope, decode func(json.RawMessage) (any, error)) (portResult, PortState, error) {
	r, ok := env.Value.(*portReply)
	if !ok {
		var w wirePortReply
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return portResult{}, PortFailed, fmt.Errorf("decode reply for %s: %w", port, err)
		}
		r = &portReply{Abandoned: w.Abandoned}
		if w.Error != nil {
			r.Err = &HandlerError{Actor: w.Error.Actor, Kind: w.Error.Kind, Err: errors.New(w.Error.Message)}
		} else if !w.Abandoned {
			v, err := decode(w.Value)
			if err != nil {
				return portResult{}, PortFailed, fmt.Errorf("decode reply for %s: %w", port, err)
			}
			r.Value = v
		}
	}

	switch {
	case r.Abandoned:
		return portResult{err: &AbandonmentError{Port: port, Dropped: true}}, PortAbandoned, nil
	case r.Err != nil:
		return portResult{err: r.Err}, PortFailed, nil
	default:
		return portResult{value: r.Value}, PortFulfilled, nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ReplyPort（发送方）
// ═══════════════════════════════════════════════════════════════════════════

// ReplyPort 单次使用的回复端口
//
// ReplyPort 可以随消息序列化并跨进程传递。Send、Fail、Drop、Complete
// 中只有第一次调用生效，之后返回 ErrPortClosed。
type ReplyPort[T any] struct {
	id   PortID
	used atomic.Bool
}

// ID 端口地址
func (p *ReplyPort[T]) ID() PortID { return p.id }

// Done 是否已经完成
func (p *ReplyPort[T]) Done() bool { return p.used.Load() }

// MarshalJSON 只序列化端口地址
func (p *ReplyPort[T]) MarshalJSON() ([]byte, error) { return json.Marshal(p.id) }

// UnmarshalJSON 还原端口地址
func (p *ReplyPort[T]) UnmarshalJSON(b []byte) error { return json.Unmarshal(b, &p.id) }

// Send 发送回复值
func (p *ReplyPort[T]) Send(cx CanSend, v T) error {
	return p.finish(cx, &portReply{Value: v})
}

// Fail 发送失败，调用方收到 HandlerError
func (p *ReplyPort[T]) Fail(cx CanSend, err error) error {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	he := &HandlerError{Err: err}
	var inner *HandlerError
	if errors.As(err, &inner) {
		cp := *inner
		he = &cp
	}
	if he.Actor == "" {
		he.Actor = cx.sendingMailbox().ID().String()
	}
	if c, ok := cx.(*Context); ok && he.Kind == "" && c.message != nil {
		he.Kind = c.message.Kind()
	}
	return p.finish(cx, &portReply{Err: he})
}

// Drop 显式放弃端口，调用方收到 AbandonmentError
func (p *ReplyPort[T]) Drop(cx CanSend) error {
	return p.finish(cx, &portReply{Abandoned: true})
}

// Complete err 非 nil 时 Fail，否则 Send
func (p *ReplyPort[T]) Complete(cx CanSend, v T, err error) error {
	if err != nil {
		return p.Fail(cx, err)
	}
	return p.Send(cx, v)
}

func (p *ReplyPort[T]) finish(cx CanSend, r *portReply) error {
	if p == nil {
		return ErrNoReplyPort
	}
	if !p.used.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrPortClosed, p.id)
	}
	return cx.sendingMailbox().postReply(p.id, r)
}

// ═══════════════════════════════════════════════════════════════════════════
// PortReceiver（接收方）
// ═══════════════════════════════════════════════════════════════════════════

// PortReceiver 回复端口的接收端
type PortReceiver[T any] struct {
	id   PortID
	mb   *Mailbox
	slot *portSlot
}

// OpenPort 在 cx 的邮箱上打开一个回复端口
func OpenPort[T any](cx CanOpenPort) (*ReplyPort[T], *PortReceiver[T]) {
	mb := cx.portMailbox()
	decode := func(raw json.RawMessage) (any, error) {
		var v T
		if len(raw) == 0 {
			return v, nil
		}
		err := json.Unmarshal(raw, &v)
		return v, err
	}
	idx, slot := mb.openPort(decode)
	id := PortID{Actor: mb.id, Index: idx}
	return &ReplyPort[T]{id: id}, &PortReceiver[T]{id: id, mb: mb, slot: slot}
}

// ID 端口地址
func (r *PortReceiver[T]) ID() PortID { return r.id }

// State 当前端口状态
func (r *PortReceiver[T]) State() PortState { return r.slot.currentState() }

// Recv 等待回复
//
// ctx 到期或被取消时端口被标记为放弃并释放，返回包装 ctx.Err() 的
// AbandonmentError，可用 errors.Is 区分 DeadlineExceeded 与 Canceled。
func (r *PortReceiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case res := <-r.slot.result:
		r.mb.releasePort(r.id.Index)
		if res.err != nil {
			return zero, res.err
		}
		if res.value == nil {
			return zero, nil
		}
		v, ok := res.value.(T)
		if !ok {
			return zero, fmt.Errorf("port %s: unexpected reply type %T", r.id, res.value)
		}
		return v, nil

	case <-ctx.Done():
		err := &AbandonmentError{Port: r.id.String(), Err: ctx.Err()}
		r.abandon(err)
		return zero, err
	}
}

// Close 释放端口；之后到达的回复会被拒绝
func (r *PortReceiver[T]) Close() {
	r.abandon(&AbandonmentError{Port: r.id.String(), Err: context.Canceled})
}

func (r *PortReceiver[T]) abandon(err error) {
	if r.slot.complete(portResult{err: err}, PortAbandoned) == nil {
		// 丢弃刚写入的结果，保持 result 为空
		<-r.slot.result
	}
	r.mb.releasePort(r.id.Index)
}
