package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// envelope 入队的消息信封
type envelope struct {
	sender     ActorID
	message    Message
	seq        uint64
	receivedAt time.Time
}

// Mailbox 消息邮箱
//
// 每个 Actor 实例或附着的客户端会话拥有一个 Mailbox：
//   - FIFO 队列，同一发送者的消息按发送顺序出队
//   - 入队非阻塞；有界邮箱满时返回 ErrMailboxFull
//   - 持有回复端口表，回复帧直接投递到端口，不经过队列
//
// Mailbox 本身就是 [CanOpenPort] 能力。
type Mailbox struct {
	id    ActorID
	proc  *Proc
	limit int

	mu     sync.Mutex
	queue  []envelope
	closed bool
	notify chan struct{}

	seq atomic.Uint64

	portsMu     sync.Mutex
	ports       map[uint64]*portSlot
	nextPort    uint64
	portsClosed bool
}

func newMailbox(id ActorID, p *Proc, limit int) *Mailbox {
	return &Mailbox{
		id:     id,
		proc:   p,
		limit:  limit,
		notify: make(chan struct{}, 1),
		ports:  make(map[uint64]*portSlot),
	}
}

// ID 邮箱所属地址
func (m *Mailbox) ID() ActorID { return m.id }

// SendOnly 返回只有发送能力的令牌
func (m *Mailbox) SendOnly() CanSend { return sendOnly{mb: m} }

// Len 当前排队消息数
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Closed 邮箱是否已关闭
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) sendingMailbox() *Mailbox { return m }

func (m *Mailbox) portMailbox() *Mailbox { return m }

// enqueue 非阻塞入队
func (m *Mailbox) enqueue(env envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMailboxClosed, m.id)
	}
	if m.limit > 0 && len(m.queue) >= m.limit {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s has %d queued", ErrMailboxFull, m.id, m.limit)
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// next 阻塞直到取出一条消息；邮箱关闭且已空或 ctx 取消时返回 false
func (m *Mailbox) next(ctx context.Context) (envelope, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			env := m.queue[0]
			m.queue[0] = envelope{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return env, true
		}
		if m.closed {
			m.mu.Unlock()
			return envelope{}, false
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return envelope{}, false
		}
	}
}

// Receive 取出下一条消息
// 供附着的客户端会话接收单向消息
func (m *Mailbox) Receive(ctx context.Context) (Message, ActorID, error) {
	env, ok := m.next(ctx)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, ActorID{}, err
		}
		return nil, ActorID{}, fmt.Errorf("%w: %s", ErrMailboxClosed, m.id)
	}
	return env.message, env.sender, nil
}

// close 关闭邮箱，丢弃排队消息并放弃所有未完成端口
func (m *Mailbox) close() []envelope {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	dropped := m.queue
	m.queue = nil
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	m.portsMu.Lock()
	slots := m.ports
	m.ports = make(map[uint64]*portSlot)
	m.portsClosed = true
	m.portsMu.Unlock()
	for idx, s := range slots {
		port := PortID{Actor: m.id, Index: idx}.String()
		_ = s.complete(portResult{err: &AbandonmentError{Port: port, Err: ErrMailboxClosed}}, PortAbandoned)
	}
	return dropped
}

// ═══════════════════════════════════════════════════════════════════════════
// 发送
// ═══════════════════════════════════════════════════════════════════════════

// post 向 dest 投递一条消息，返回时已被目标邮箱接收
func (m *Mailbox) post(ctx context.Context, dest ActorID, msg Message) error {
	env := &transport.Envelope{
		Version: transport.ProtocolVersion,
		Kind:    msg.Kind(),
		Sender:  m.id.String(),
		Dest:    dest.Name,
		Seq:     m.seq.Add(1),
		Value:   msg,
	}
	if err := m.proc.route(ctx, dest.Addr, env); err != nil {
		return &DeliveryError{Dest: dest.String(), Kind: env.Kind, Err: err}
	}
	return nil
}

// postReply 把回复投递到端口所属邮箱
func (m *Mailbox) postReply(port PortID, reply *portReply) error {
	env := &transport.Envelope{
		Version: transport.ProtocolVersion,
		Kind:    portReplyKind,
		Sender:  m.id.String(),
		Dest:    port.Actor.Name,
		Port:    port.Index,
		Seq:     m.seq.Add(1),
		Value:   reply,
	}
	if err := m.proc.route(m.proc.ctx, port.Actor.Addr, env); err != nil {
		return &DeliveryError{Dest: port.String(), Kind: portReplyKind, Err: err}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 端口表
// ═══════════════════════════════════════════════════════════════════════════

// openPort 登记新端口；端口表已随邮箱关闭时返回一个已放弃的端口
func (m *Mailbox) openPort(decode func(json.RawMessage) (any, error)) (uint64, *portSlot) {
	slot := &portSlot{
		state:  PortOpen,
		result: make(chan portResult, 1),
		decode: decode,
	}
	m.portsMu.Lock()
	defer m.portsMu.Unlock()
	m.nextPort++
	idx := m.nextPort
	if m.portsClosed {
		slot.state = PortAbandoned
		slot.result <- portResult{err: &AbandonmentError{
			Port: PortID{Actor: m.id, Index: idx}.String(),
			Err:  ErrMailboxClosed,
		}}
		return idx, slot
	}
	m.ports[idx] = slot
	return idx, slot
}

func (m *Mailbox) releasePort(idx uint64) {
	m.portsMu.Lock()
	delete(m.ports, idx)
	m.portsMu.Unlock()
}

// deliverPort 完成端口；端口不存在或已完成时返回 ErrPortClosed
func (m *Mailbox) deliverPort(idx uint64, env *transport.Envelope) error {
	port := PortID{Actor: m.id, Index: idx}.String()
	m.portsMu.Lock()
	slot, ok := m.ports[idx]
	m.portsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPortClosed, port)
	}

	res, state, err := decodeReply(port, env, slot.decode)
	if err != nil {
		res, state = portResult{err: err}, PortFailed
	}
	if err := slot.complete(res, state); err != nil {
		return fmt.Errorf("%w: %s", err, port)
	}
	return nil
}
