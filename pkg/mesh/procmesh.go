package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

var (
	// ErrMeshStopped ProcMesh 已停止，所有句柄失效
	ErrMeshStopped = errors.New("proc mesh stopped")
	// ErrActorMeshStopped ActorMesh 已被停止
	ErrActorMeshStopped = errors.New("actor mesh stopped")
)

// ═══════════════════════════════════════════════════════════════════════════
// 选项
// ═══════════════════════════════════════════════════════════════════════════

type options struct {
	world          string
	policy         actor.Policy
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	eventBuffer    int
}

// Option ProcMesh 配置选项
type Option func(*options)

// WithWorld 设置 world 名称，默认随机生成
func WithWorld(name string) Option {
	return func(o *options) {
		o.world = name
	}
}

// WithPolicy 设置背压、超时与部分失败策略
func WithPolicy(p actor.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLogger 设置日志器
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider，默认使用全局 provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider 设置 OpenTelemetry TracerProvider，默认使用全局 provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithEventBuffer 设置事件通道容量，满时丢弃新事件
func WithEventBuffer(n int) Option {
	return func(o *options) {
		o.eventBuffer = n
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ProcMesh
// ═══════════════════════════════════════════════════════════════════════════

// ProcMesh 按命名维度排列的一组 Proc
//
// Stop 之后 ProcMesh 及其派生的所有 ActorMesh 句柄失效，
// 操作返回 ErrMeshStopped。
type ProcMesh struct {
	world   string
	extent  region.Extent
	alloc   Alloc
	procs   []AllocatedProc
	client  *actor.Proc
	session *actor.Mailbox
	agents  *ActorMesh
	policy  actor.Policy
	logger  *slog.Logger
	metrics *meshMetrics
	tracer  trace.Tracer

	mu     sync.Mutex
	actors map[string]*ActorMesh

	evMu     sync.Mutex
	events   chan ProcEvent
	evClosed bool

	stopped atomic.Bool
}

// Allocate 分配一个 ProcMesh
//
// 先由 allocator 为每个坐标启动 Proc，再确认每个 Proc 的 agent 可达。
// 任一步骤失败时全部回收，返回 *actor.AllocationError。
func Allocate(ctx context.Context, allocator Allocator, extent region.Extent, opts ...Option) (*ProcMesh, error) {
	o := &options{
		policy:      actor.DefaultPolicy(),
		logger:      slog.Default(),
		eventBuffer: 256,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.world == "" {
		o.world = "mesh-" + uuid.NewString()[:8]
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	metrics, err := newMeshMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}

	pm := &ProcMesh{
		world:   o.world,
		extent:  extent,
		policy:  o.policy,
		logger:  o.logger.With("world", o.world),
		metrics: metrics,
		tracer:  o.tracerProvider.Tracer(instrumentationName),
		actors:  make(map[string]*ActorMesh),
		events:  make(chan ProcEvent, o.eventBuffer),
	}

	ctx, span := pm.tracer.Start(ctx, "mesh.allocate", trace.WithAttributes(
		attribute.String("mesh.world", pm.world),
		attribute.String("mesh.extent", extent.String()),
	))
	defer span.End()

	if err := pm.allocate(ctx, allocator); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pm.metrics.allocFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("mesh.op", "allocate")))
		return nil, err
	}

	pm.metrics.allocations.Add(ctx, 1)
	for _, p := range pm.procs {
		pm.emit(ProcEvent{Kind: EventProcUp, Rank: p.Rank, Point: p.Point.String(), At: time.Now()})
		pm.logger.Debug("proc up", "rank", p.Rank, "point", p.Point.String(), "addr", p.Addr)
	}
	return pm, nil
}

func (pm *ProcMesh) allocate(ctx context.Context, allocator Allocator) error {
	alloc, err := allocator.Allocate(ctx, AllocSpec{
		World:     pm.world,
		Extent:    pm.extent,
		Policy:    pm.policy,
		OnFailure: pm.onFailure,
	})
	if err != nil {
		var ae *actor.AllocationError
		if !errors.As(err, &ae) {
			err = &actor.AllocationError{Op: "allocate", Rank: -1, Err: err}
		}
		return err
	}
	pm.alloc = alloc
	pm.procs = alloc.Procs()

	teardown := func(cause error) error {
		stopCtx := context.WithoutCancel(ctx)
		errs := []error{cause}
		if pm.client != nil {
			errs = append(errs, pm.client.Stop(stopCtx))
		}
		errs = append(errs, alloc.Stop(stopCtx))
		return errors.Join(errs...)
	}

	if len(pm.procs) != pm.extent.NumRanks() {
		return teardown(&actor.AllocationError{Op: "allocate", Rank: -1, Err: &actor.CardinalityError{
			Expected: pm.extent.NumRanks(),
			Actual:   len(pm.procs),
		}})
	}

	pm.client, err = actor.NewProc(actor.ProcID{World: pm.world + "-client", Rank: 0}, alloc.Transport()(), &actor.ProcConfig{
		Policy: pm.policy,
		Logger: pm.logger,
	})
	if err != nil {
		return teardown(&actor.AllocationError{Op: "allocate", Rank: -1, Err: fmt.Errorf("start client: %w", err)})
	}
	pm.session, err = pm.client.Attach("session-" + uuid.NewString()[:8])
	if err != nil {
		return teardown(&actor.AllocationError{Op: "allocate", Rank: -1, Err: err})
	}

	ids := make([]actor.ActorID, len(pm.procs))
	for _, p := range pm.procs {
		ids[p.Rank] = p.Agent
	}
	pm.agents = newActorMesh(pm, AgentName, AgentName, ids)

	status, err := callMesh(ctx, pm.session, pm.agents, func(reply *actor.ReplyPort[ProcStatus]) actor.Message {
		return &Status{Reply: reply}
	}, actor.PerTarget)
	if err != nil {
		return teardown(&actor.AllocationError{Op: "allocate", Rank: -1, Err: err})
	}
	if failed := status.Failed(); len(failed) > 0 {
		r, _ := status.Get(failed[0])
		return teardown(&actor.AllocationError{Op: "allocate", Rank: failed[0], Err: r.Err})
	}
	return nil
}

// World 返回 world 名称
func (pm *ProcMesh) World() string { return pm.world }

// Extent 返回 mesh 形状
func (pm *ProcMesh) Extent() region.Extent { return pm.extent }

// Region 返回完整 mesh 的 Region
func (pm *ProcMesh) Region() region.Region { return pm.extent.Region() }

// NumRanks 返回 Proc 数量
func (pm *ProcMesh) NumRanks() int { return len(pm.procs) }

// Policy 返回生效的策略
func (pm *ProcMesh) Policy() actor.Policy { return pm.policy }

// Client 返回调用方会话的邮箱，具有发送与打开端口的能力
func (pm *ProcMesh) Client() *actor.Mailbox { return pm.session }

// RankOf 坐标转 rank（行优先）
func (pm *ProcMesh) RankOf(coords ...int) (int, error) { return pm.extent.RankOf(coords) }

// CoordinateOf rank 转坐标
func (pm *ProcMesh) CoordinateOf(rank int) (region.Point, error) { return pm.extent.PointOf(rank) }

// Proc 返回 rank 上的 Proc 信息
func (pm *ProcMesh) Proc(rank int) (AllocatedProc, error) {
	if rank < 0 || rank >= len(pm.procs) {
		return AllocatedProc{}, fmt.Errorf("%w: rank %d not in [0, %d)", region.ErrOutOfRange, rank, len(pm.procs))
	}
	return pm.procs[rank], nil
}

// Procs 返回所有 Proc 信息，按 rank 排序
func (pm *ProcMesh) Procs() []AllocatedProc { return append([]AllocatedProc(nil), pm.procs...) }

// Events 返回生命周期事件流，ProcMesh 停止后关闭
func (pm *ProcMesh) Events() <-chan ProcEvent { return pm.events }

// IsStopped 是否已停止
func (pm *ProcMesh) IsStopped() bool { return pm.stopped.Load() }

// Status 查询每个 Proc 的状态
func (pm *ProcMesh) Status(ctx context.Context) (*ValueMesh[ProcStatus], error) {
	return callMesh(ctx, pm.session, pm.agents, func(reply *actor.ReplyPort[ProcStatus]) actor.Message {
		return &Status{Reply: reply}
	}, actor.PerTarget)
}

// ActorMesh 按名称查找已创建的 ActorMesh
func (pm *ProcMesh) ActorMesh(name string) (*ActorMesh, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	am, ok := pm.actors[name]
	return am, ok && am != nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Actor 生命周期
// ═══════════════════════════════════════════════════════════════════════════

// Spawn 在每个 Proc 上创建一个 actorType 实例
//
// 全有或全无：任一 rank 失败时，已创建的实例全部停止，返回
// *actor.AllocationError。同名 ActorMesh 已存在时直接失败。
// params 编码为 JSON 传给注册的 ActorFactory。
func (pm *ProcMesh) Spawn(ctx context.Context, name, actorType string, params any) (*ActorMesh, error) {
	if pm.stopped.Load() {
		return nil, ErrMeshStopped
	}
	if err := actor.ValidateName(name); err != nil {
		return nil, &actor.AllocationError{Op: "spawn", Rank: -1, Err: err}
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, &actor.AllocationError{Op: "spawn", Rank: -1, Err: fmt.Errorf("encode params: %w", err)}
		}
		raw = b
	}

	pm.mu.Lock()
	if _, exists := pm.actors[name]; exists || name == AgentName {
		pm.mu.Unlock()
		return nil, &actor.AllocationError{Op: "spawn", Rank: -1, Err: fmt.Errorf("%w: mesh %q", actor.ErrActorExists, name)}
	}
	pm.actors[name] = nil // 占位，防止并发重名
	pm.mu.Unlock()

	ctx, span := pm.tracer.Start(ctx, "mesh.spawn", trace.WithAttributes(
		attribute.String("mesh.actor", name),
		attribute.String("mesh.actor_type", actorType),
	))
	defer span.End()

	am, err := pm.spawn(ctx, name, actorType, raw)

	pm.mu.Lock()
	if err != nil {
		delete(pm.actors, name)
	} else {
		pm.actors[name] = am
	}
	pm.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pm.metrics.allocFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("mesh.op", "spawn")))
		return nil, err
	}

	pm.metrics.spawns.Add(ctx, 1, metric.WithAttributes(attribute.String("mesh.actor_type", actorType)))
	for _, p := range pm.procs {
		pm.emit(ProcEvent{Kind: EventActorSpawned, Rank: p.Rank, Point: p.Point.String(), Actor: name, At: time.Now()})
	}
	return am, nil
}

func (pm *ProcMesh) spawn(ctx context.Context, name, actorType string, params json.RawMessage) (*ActorMesh, error) {
	results, callErr := callMesh(ctx, pm.session, pm.agents, func(reply *actor.ReplyPort[actor.ActorID]) actor.Message {
		return &Gspawn{Name: name, ActorType: actorType, Params: params, Reply: reply}
	}, actor.PerTarget)
	err := callErr
	if err == nil {
		if failed := results.Failed(); len(failed) > 0 {
			r, _ := results.Get(failed[0])
			err = &actor.AllocationError{Op: "spawn", Rank: failed[0], Err: r.Err}
		}
	}
	if err == nil {
		return newActorMesh(pm, name, actorType, results.Values()), nil
	}

	var ae *actor.AllocationError
	if !errors.As(err, &ae) {
		err = &actor.AllocationError{Op: "spawn", Rank: -1, Err: err}
	}
	pm.logger.Warn("spawn failed, rolling back", "actor", name, "error", err)

	// 调用被取消时无法确认哪些 rank 已创建，全部回收
	succeeded := pm.agents.region.Ranks()
	if callErr == nil {
		succeeded = succeeded[:0]
		for i := range results.Len() {
			if r, _ := results.Get(i); r.Err == nil {
				succeeded = append(succeeded, i)
			}
		}
	}
	if rerr := pm.stopOn(context.WithoutCancel(ctx), name, succeeded); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return nil, err
}

// stopOn 通过 agent 停止 ranks 上名为 name 的 Actor
func (pm *ProcMesh) stopOn(ctx context.Context, name string, ranks []int) error {
	if len(ranks) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, rank := range ranks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := AgentClient{ID: pm.procs[rank].Agent}.StopActor(ctx, pm.session, name)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s on rank %d: %w", name, rank, err))
				mu.Unlock()
				return
			}
			pm.emit(ProcEvent{Kind: EventActorStopped, Rank: rank, Point: pm.procs[rank].Point.String(), Actor: name, At: time.Now()})
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// StopActor 停止 ActorMesh 的所有成员，之后该 ActorMesh 及其切片失效
func (pm *ProcMesh) StopActor(ctx context.Context, name string) error {
	if pm.stopped.Load() {
		return ErrMeshStopped
	}
	pm.mu.Lock()
	am, ok := pm.actors[name]
	if ok && am != nil {
		delete(pm.actors, name)
	}
	pm.mu.Unlock()
	if !ok || am == nil {
		return fmt.Errorf("%w: mesh %q", actor.ErrActorNotFound, name)
	}

	am.arena.stopped.Store(true)
	return pm.stopOn(ctx, name, pm.Region().Ranks())
}

// Stop 停止所有 Proc 和客户端会话
func (pm *ProcMesh) Stop(ctx context.Context) error {
	if !pm.stopped.CompareAndSwap(false, true) {
		return nil
	}
	pm.logger.Debug("proc mesh stopping")

	pm.mu.Lock()
	for _, am := range pm.actors {
		if am != nil {
			am.arena.stopped.Store(true)
		}
	}
	pm.agents.arena.stopped.Store(true)
	pm.mu.Unlock()

	err := errors.Join(pm.client.Stop(ctx), pm.alloc.Stop(ctx))

	for _, p := range pm.procs {
		pm.emit(ProcEvent{Kind: EventProcDown, Rank: p.Rank, Point: p.Point.String(), At: time.Now()})
	}
	pm.evMu.Lock()
	pm.evClosed = true
	close(pm.events)
	pm.evMu.Unlock()

	pm.logger.Debug("proc mesh stopped")
	return err
}

// ═══════════════════════════════════════════════════════════════════════════
// 事件
// ═══════════════════════════════════════════════════════════════════════════

func (pm *ProcMesh) emit(ev ProcEvent) {
	pm.evMu.Lock()
	defer pm.evMu.Unlock()
	if pm.evClosed {
		return
	}
	if !actor.TrySend(pm.events, ev) {
		pm.logger.Debug("event dropped", "event", ev.String())
	}
}

// onFailure Proc 上处理函数失败的回调，在 Proc 的 goroutine 中执行
func (pm *ProcMesh) onFailure(f actor.Failure) {
	rank := f.Actor.Proc.Rank
	point := ""
	if p, err := pm.extent.PointOf(rank); err == nil {
		point = p.String()
	}
	pm.metrics.actorFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("mesh.actor", f.Actor.Name),
		attribute.String("mesh.kind", f.Kind),
	))
	pm.emit(ProcEvent{
		Kind:   EventActorFailed,
		Rank:   rank,
		Point:  point,
		Actor:  f.Actor.Name,
		Reason: f.Err.Error(),
		At:     f.At,
	})
}
