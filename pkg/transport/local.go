package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// LocalNetwork 进程内传输网络
//
// 每个 LocalNetwork 是一个独立的地址空间，测试之间互不干扰。
type LocalNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*LocalTransport
	next  atomic.Uint64
}

// NewLocalNetwork 创建进程内网络
func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{nodes: make(map[string]*LocalTransport)}
}

// NewTransport 创建挂在此网络上的 Transport
func (n *LocalNetwork) NewTransport() *LocalTransport {
	return &LocalTransport{network: n}
}

// Factory 返回 Transport 工厂
func (n *LocalNetwork) Factory() Factory {
	return func() Transport { return n.NewTransport() }
}

// Addresses 返回所有已绑定地址（排序后）
func (n *LocalNetwork) Addresses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addrs := make([]string, 0, len(n.nodes))
	for a := range n.nodes {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

// Len 返回已绑定地址数量
func (n *LocalNetwork) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.nodes)
}

func (n *LocalNetwork) lookup(addr string) (*LocalTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[addr]
	return t, ok
}

// LocalTransport 进程内 Transport
type LocalTransport struct {
	network *LocalNetwork
	addr    string
	handler Handler
	stopped atomic.Bool
}

// Start 实现 Transport 接口
func (t *LocalTransport) Start(addr string, h Handler) error {
	if h == nil {
		return fmt.Errorf("local transport: nil handler")
	}
	if addr == "" {
		addr = fmt.Sprintf("local://%d", t.network.next.Add(1))
	}

	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	if _, exists := t.network.nodes[addr]; exists {
		return fmt.Errorf("local transport: address %s already bound", addr)
	}
	t.addr = addr
	t.handler = h
	t.network.nodes[addr] = t
	return nil
}

// Address 实现 Transport 接口
func (t *LocalTransport) Address() string { return t.addr }

// Send 实现 Transport 接口
//
// 同步调用目标 Handler，Handler 的返回值即为接收确认。
func (t *LocalTransport) Send(ctx context.Context, to string, env *Envelope) error {
	if t.stopped.Load() {
		return &SendError{To: to, Err: ErrStopped}
	}
	if err := ctx.Err(); err != nil {
		return &SendError{To: to, Err: err}
	}
	dst, ok := t.network.lookup(to)
	if !ok || dst.stopped.Load() {
		return &SendError{To: to, Err: ErrUnreachable}
	}
	if env.Version == "" {
		env.Version = ProtocolVersion
	}
	if err := CheckVersion(env.Version); err != nil {
		return &SendError{To: to, Err: err}
	}
	if err := dst.handler(ctx, env); err != nil {
		return &SendError{To: to, Err: err}
	}
	return nil
}

// Stop 实现 Transport 接口
func (t *LocalTransport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.network.mu.Lock()
	if t.network.nodes[t.addr] == t {
		delete(t.network.nodes, t.addr)
	}
	t.network.mu.Unlock()
	return nil
}
