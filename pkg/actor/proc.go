package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// Proc 进程：Actor 实例的宿主
//
// Proc 通过一个 Transport 收发消息，管理实例的生命周期和邮箱。
// 每个实例一个 goroutine，一次处理一条消息。
type Proc struct {
	id     ProcID
	point  region.Point
	trans  transport.Transport
	config *ProcConfig
	logger *slog.Logger

	mu        sync.RWMutex
	mailboxes map[string]*Mailbox
	instances map[string]*instance

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	counters procCounters
}

// ProcConfig Proc 配置
type ProcConfig struct {
	// Policy 背压与超时策略
	Policy Policy
	// Registry 消息与 Actor 类型注册表，nil 使用默认注册表
	Registry *Registry
	// Address 监听地址，空字符串由 Transport 选择
	Address string
	// Point Proc 在 mesh 中的坐标
	Point region.Point
	// PanicHandler 处理函数 panic 时的回调
	PanicHandler func(actor ActorID, msg Message, err any)
	// FailureHandler 处理函数失败时的回调，用于事件上报
	FailureHandler func(Failure)
	// Logger 自定义日志器
	Logger *slog.Logger
}

// DefaultProcConfig 默认 Proc 配置
func DefaultProcConfig() *ProcConfig {
	return &ProcConfig{
		Policy:   DefaultPolicy(),
		Registry: nil, // 使用默认注册表
		Logger:   nil, // 使用默认 logger
	}
}

// Failure 处理函数失败记录
type Failure struct {
	Actor ActorID
	Kind  string
	Err   error
	At    time.Time
}

// NewProc 创建 Proc 并启动 Transport
func NewProc(id ProcID, t transport.Transport, config *ProcConfig) (*Proc, error) {
	if config == nil {
		config = DefaultProcConfig()
	}
	if config.Registry == nil {
		config.Registry = defaultRegistry
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("proc %s: %w", id, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Proc{
		id:        id,
		point:     config.Point,
		trans:     t,
		config:    config,
		logger:    logger.With("proc", id.String()),
		mailboxes: make(map[string]*Mailbox),
		instances: make(map[string]*instance),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.counters.startedAt = time.Now()

	if err := t.Start(config.Address, p.deliver); err != nil {
		cancel()
		return nil, fmt.Errorf("proc %s: start transport: %w", id, err)
	}
	p.running.Store(true)

	p.logger.Debug("proc started", "addr", t.Address())
	return p, nil
}

// ID 返回 Proc 标识
func (p *Proc) ID() ProcID { return p.id }

// Address 返回传输地址
func (p *Proc) Address() string { return p.trans.Address() }

// Point 返回 mesh 坐标
func (p *Proc) Point() region.Point { return p.point }

// Policy 返回生效的策略
func (p *Proc) Policy() Policy { return p.config.Policy }

// Registry 返回注册表
func (p *Proc) Registry() *Registry { return p.config.Registry }

// IsRunning 是否运行中
func (p *Proc) IsRunning() bool { return p.running.Load() }

func (p *Proc) actorID(name string) ActorID {
	return ActorID{Proc: p.id, Name: name, Addr: p.trans.Address()}
}

// ═══════════════════════════════════════════════════════════════════════════
// 实例管理
// ═══════════════════════════════════════════════════════════════════════════

// Spawn 按注册的类型名创建 Actor
func (p *Proc) Spawn(name, actorType string, params json.RawMessage) (ActorID, error) {
	a, err := p.config.Registry.NewActor(actorType, params)
	if err != nil {
		return ActorID{}, fmt.Errorf("spawn %s on %s: %w", name, p.id, err)
	}
	return p.SpawnActor(name, a)
}

// SpawnActor 创建 Actor 实例
//
// Actor 实现 Initializer 时先执行 Init，失败则不注册并返回错误。
func (p *Proc) SpawnActor(name string, a Actor) (ActorID, error) {
	if err := ValidateName(name); err != nil {
		return ActorID{}, err
	}

	mb, err := p.register(name, p.config.Policy.MaxQueueDepth)
	if err != nil {
		return ActorID{}, err
	}

	ctx, cancel := context.WithCancel(p.ctx)
	inst := &instance{
		id:      mb.id,
		actor:   a,
		mailbox: mb,
		proc:    p,
		stats:   NewStatsCollector(),
		logger:  p.logger.With("actor", name),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if init, ok := a.(Initializer); ok {
		if err := Invoke(func() error { return init.Init(inst.context(envelope{})) }); err != nil {
			cancel()
			p.unregister(name)
			mb.close()
			return ActorID{}, fmt.Errorf("init %s on %s: %w", name, p.id, err)
		}
	}

	p.mu.Lock()
	p.instances[name] = inst
	p.mu.Unlock()

	p.wg.Add(1)
	go inst.run()

	p.logger.Debug("spawned actor", "actor", name)
	return mb.id, nil
}

// Attach 附着一个客户端会话，返回其邮箱
//
// 客户端邮箱没有处理循环，用于发送消息和打开回复端口。
func (p *Proc) Attach(name string) (*Mailbox, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return p.register(name, 0)
}

// Detach 关闭客户端会话
func (p *Proc) Detach(name string) {
	p.mu.Lock()
	mb, ok := p.mailboxes[name]
	_, isActor := p.instances[name]
	if ok && !isActor {
		delete(p.mailboxes, name)
	}
	p.mu.Unlock()
	if ok && !isActor {
		mb.close()
	}
}

func (p *Proc) register(name string, limit int) (*Mailbox, error) {
	if !p.running.Load() {
		return nil, fmt.Errorf("%w: %s", ErrProcStopped, p.id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.mailboxes[name]; exists {
		return nil, fmt.Errorf("%w: %s on %s", ErrActorExists, name, p.id)
	}
	mb := newMailbox(p.actorID(name), p, limit)
	p.mailboxes[name] = mb
	return mb, nil
}

func (p *Proc) unregister(name string) {
	p.mu.Lock()
	delete(p.mailboxes, name)
	delete(p.instances, name)
	p.mu.Unlock()
}

// Lookup 查找 Actor 或会话
func (p *Proc) Lookup(name string) (ActorID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if mb, ok := p.mailboxes[name]; ok {
		return mb.id, true
	}
	return ActorID{}, false
}

// Actors 列出所有 Actor 实例名称（排序后）
func (p *Proc) Actors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.instances))
	for n := range p.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActorStats 获取 Actor 实例统计
func (p *Proc) ActorStats(name string) (*ActorStats, bool) {
	p.mu.RLock()
	inst, ok := p.instances[name]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return inst.stats.Stats(), true
}

// StopActor 停止 Actor 并等待其处理循环退出
func (p *Proc) StopActor(ctx context.Context, name string) error {
	p.mu.Lock()
	inst, ok := p.instances[name]
	if ok {
		delete(p.instances, name)
		delete(p.mailboxes, name)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrActorNotFound, name, p.id)
	}

	inst.stop()
	select {
	case <-inst.done:
		p.logger.Debug("actor stopped", "actor", name)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for actor %s to stop: %w", name, ctx.Err())
	}
}

// Stop 停止所有实例和会话，并关闭 Transport
func (p *Proc) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.logger.Debug("proc stopping")

	p.mu.Lock()
	instances := make([]*instance, 0, len(p.instances))
	for _, inst := range p.instances {
		instances = append(instances, inst)
	}
	mailboxes := make([]*Mailbox, 0, len(p.mailboxes))
	for _, mb := range p.mailboxes {
		mailboxes = append(mailboxes, mb)
	}
	p.instances = make(map[string]*instance)
	p.mailboxes = make(map[string]*Mailbox)
	p.mu.Unlock()

	for _, inst := range instances {
		inst.stop()
	}
	for _, mb := range mailboxes {
		mb.close()
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("proc stop timeout, forcing exit")
		err = fmt.Errorf("stop %s: %w", p.id, ctx.Err())
	}

	if terr := p.trans.Stop(); terr != nil && err == nil {
		err = fmt.Errorf("stop %s transport: %w", p.id, terr)
	}
	p.logger.Debug("proc stopped")
	return err
}

// Stats 获取 Proc 统计
func (p *Proc) Stats() ProcStats {
	p.mu.RLock()
	actors, sessions := len(p.instances), len(p.mailboxes)-len(p.instances)
	p.mu.RUnlock()
	return ProcStats{
		Actors:      actors,
		Sessions:    sessions,
		Delivered:   p.counters.delivered.Load(),
		Rejected:    p.counters.rejected.Load(),
		DeadLetters: p.counters.deadLetters.Load(),
		Failures:    p.counters.failures.Load(),
		StartedAt:   p.counters.startedAt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 投递
// ═══════════════════════════════════════════════════════════════════════════

// route 发送信封；目标在本 Proc 时直接投递
func (p *Proc) route(ctx context.Context, addr string, env *transport.Envelope) error {
	if !p.running.Load() {
		return fmt.Errorf("%w: %s", ErrProcStopped, p.id)
	}
	if addr == p.trans.Address() {
		return p.deliver(ctx, env)
	}
	return p.trans.Send(ctx, addr, env)
}

// deliver 入站信封处理，作为 Transport 的 Handler
func (p *Proc) deliver(_ context.Context, env *transport.Envelope) error {
	if !p.running.Load() {
		return fmt.Errorf("%w: %s", ErrProcStopped, p.id)
	}

	mb, ok := p.mailboxFor(env.Dest)
	if !ok {
		p.counters.deadLetters.Add(1)
		p.logger.Warn("dead letter", "kind", env.Kind, "dest", env.Dest, "sender", env.Sender)
		return fmt.Errorf("%w: %s on %s", ErrActorNotFound, env.Dest, p.id)
	}

	var err error
	if env.IsReply() {
		err = mb.deliverPort(env.Port, env)
	} else {
		err = p.enqueue(mb, env)
	}
	if err != nil {
		p.counters.rejected.Add(1)
		return err
	}
	p.counters.delivered.Add(1)
	return nil
}

func (p *Proc) mailboxFor(name string) (*Mailbox, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	mb, ok := p.mailboxes[name]
	return mb, ok
}

func (p *Proc) enqueue(mb *Mailbox, env *transport.Envelope) error {
	msg, ok := env.Value.(Message)
	if !ok {
		var err error
		if msg, err = p.config.Registry.DecodeMessage(env.Kind, env.Body); err != nil {
			return err
		}
	}

	var sender ActorID
	if env.Sender != "" {
		sender, _ = ParseActorID(env.Sender)
	}
	return mb.enqueue(envelope{
		sender:     sender,
		message:    msg,
		seq:        env.Seq,
		receivedAt: time.Now(),
	})
}

// reportFailure 记录并上报处理失败
func (p *Proc) reportFailure(f Failure) {
	p.counters.failures.Add(1)
	if p.config.FailureHandler != nil {
		p.config.FailureHandler(f)
	}
}
