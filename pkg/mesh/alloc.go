package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// ═══════════════════════════════════════════════════════════════════════════
// 分配接口
// ═══════════════════════════════════════════════════════════════════════════

// AllocSpec 分配请求
type AllocSpec struct {
	// World 进程所属的 world 名称
	World string
	// Extent mesh 形状，每个坐标分配一个 Proc
	Extent region.Extent
	// Policy 每个 Proc 的背压与超时策略
	Policy actor.Policy
	// OnFailure Proc 上处理函数失败时的回调
	OnFailure func(actor.Failure)
}

// AllocatedProc 一个已启动的 Proc
type AllocatedProc struct {
	Rank  int
	Point region.Point
	ID    actor.ProcID
	Addr  string
	// Agent Proc 上的管理 Actor
	Agent actor.ActorID
}

// Alloc 一次分配的结果
//
// Stop 之后所有 Proc 都已停止。
type Alloc interface {
	Extent() region.Extent
	Procs() []AllocatedProc
	// Transport 返回可以连通这些 Proc 的 Transport 工厂
	Transport() transport.Factory
	Stop(ctx context.Context) error
}

// Allocator 进程分配器
//
// Allocate 是原子的：任何一个 Proc 启动失败时，已启动的 Proc 全部停止，
// 返回 *actor.AllocationError。
type Allocator interface {
	Allocate(ctx context.Context, spec AllocSpec) (Alloc, error)
}

// ═══════════════════════════════════════════════════════════════════════════
// LocalAllocator
// ═══════════════════════════════════════════════════════════════════════════

// BootHook 在每个 Proc 启动前调用，返回错误则该 rank 启动失败
type BootHook func(ctx context.Context, rank int) error

// LocalAllocator 在当前进程内为每个坐标启动一个 Proc
type LocalAllocator struct {
	factory  transport.Factory
	registry *actor.Registry
	logger   *slog.Logger
	boot     BootHook

	live atomic.Int64
}

// LocalOption LocalAllocator 配置选项
type LocalOption func(*LocalAllocator)

// WithTransport 设置 Transport 工厂，默认每个分配器一个 LocalNetwork
func WithTransport(f transport.Factory) LocalOption {
	return func(a *LocalAllocator) {
		a.factory = f
	}
}

// WithRegistry 设置 Proc 使用的注册表
func WithRegistry(r *actor.Registry) LocalOption {
	return func(a *LocalAllocator) {
		a.registry = r
	}
}

// WithAllocLogger 设置日志器
func WithAllocLogger(l *slog.Logger) LocalOption {
	return func(a *LocalAllocator) {
		a.logger = l
	}
}

// WithBootHook 设置启动钩子，用于故障注入
func WithBootHook(h BootHook) LocalOption {
	return func(a *LocalAllocator) {
		a.boot = h
	}
}

// NewLocalAllocator 创建本地分配器
func NewLocalAllocator(opts ...LocalOption) *LocalAllocator {
	a := &LocalAllocator{
		registry: actor.DefaultRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.factory == nil {
		a.factory = transport.NewLocalNetwork().Factory()
	}
	return a
}

// Live 返回当前存活的 Proc 数量
func (a *LocalAllocator) Live() int { return int(a.live.Load()) }

// Allocate 实现 Allocator 接口
func (a *LocalAllocator) Allocate(ctx context.Context, spec AllocSpec) (Alloc, error) {
	n := spec.Extent.NumRanks()
	if n <= 0 {
		return nil, &actor.AllocationError{Op: "allocate", Rank: -1, Err: region.ErrInvalidDim}
	}
	if err := spec.Policy.Validate(); err != nil {
		return nil, &actor.AllocationError{Op: "allocate", Rank: -1, Err: err}
	}

	procs := make([]*actor.Proc, n)
	g, gctx := errgroup.WithContext(ctx)
	for rank := range n {
		g.Go(func() error {
			p, err := a.bootProc(gctx, spec, rank)
			if err != nil {
				return &actor.AllocationError{Op: "allocate", Rank: rank, Err: err}
			}
			procs[rank] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.logger.Warn("allocation failed, tearing down", "world", spec.World, "error", err)
		if serr := a.stopAll(context.WithoutCancel(ctx), procs); serr != nil {
			err = errors.Join(err, serr)
		}
		return nil, err
	}

	out := &localAlloc{owner: a, extent: spec.Extent, procs: procs, factory: a.factory}
	a.logger.Debug("allocated procs", "world", spec.World, "extent", spec.Extent.String())
	return out, nil
}

func (a *LocalAllocator) bootProc(ctx context.Context, spec AllocSpec, rank int) (*actor.Proc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.boot != nil {
		if err := a.boot(ctx, rank); err != nil {
			return nil, err
		}
	}
	point, err := spec.Extent.PointOf(rank)
	if err != nil {
		return nil, err
	}

	p, err := actor.NewProc(actor.ProcID{World: spec.World, Rank: rank}, a.factory(), &actor.ProcConfig{
		Policy:         spec.Policy,
		Registry:       a.registry,
		Point:          point,
		FailureHandler: spec.OnFailure,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.live.Add(1)

	if _, err := p.SpawnActor(AgentName, newAgent()); err != nil {
		a.stopProc(ctx, p)
		return nil, fmt.Errorf("start agent: %w", err)
	}
	return p, nil
}

func (a *LocalAllocator) stopProc(ctx context.Context, p *actor.Proc) error {
	err := p.Stop(ctx)
	a.live.Add(-1)
	return err
}

func (a *LocalAllocator) stopAll(ctx context.Context, procs []*actor.Proc) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, p := range procs {
		if p == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.stopProc(ctx, p); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// localAlloc LocalAllocator 的分配结果
type localAlloc struct {
	owner   *LocalAllocator
	extent  region.Extent
	procs   []*actor.Proc
	factory transport.Factory
	stopped atomic.Bool
}

func (l *localAlloc) Extent() region.Extent { return l.extent }

func (l *localAlloc) Transport() transport.Factory { return l.factory }

func (l *localAlloc) Procs() []AllocatedProc {
	out := make([]AllocatedProc, len(l.procs))
	for rank, p := range l.procs {
		agent, _ := p.Lookup(AgentName)
		out[rank] = AllocatedProc{
			Rank:  rank,
			Point: p.Point(),
			ID:    p.ID(),
			Addr:  p.Address(),
			Agent: agent,
		}
	}
	return out
}

func (l *localAlloc) Stop(ctx context.Context) error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	return l.owner.stopAll(ctx, l.procs)
}
