package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
)

// ═══════════════════════════════════════════════════════════════════════════
// 调用式
// ═══════════════════════════════════════════════════════════════════════════

// Call 向 am 的每个目标并发发送调用式消息，按坐标收集结果
//
// build 每个目标调用一次，每次拿到一个新的回复端口。部分失败按
// ProcMesh 的 Policy.PartialFailure 处理：
//   - PerTarget：每个坐标独立记录值或错误，返回完整的 ValueMesh
//   - AbortAll：第一个失败取消其余目标，返回该错误
//
// 调用方 ctx 被取消时所有端口被释放，返回已有结果与 ctx.Err()。
func Call[T any](ctx context.Context, cx actor.CanOpenPort, am *ActorMesh, build func(*actor.ReplyPort[T]) actor.Message) (*ValueMesh[T], error) {
	return callMesh(ctx, cx, am, build, am.pm.policy.PartialFailure)
}

func callMesh[T any](ctx context.Context, cx actor.CanOpenPort, am *ActorMesh, build func(*actor.ReplyPort[T]) actor.Message, pf actor.PartialFailurePolicy) (*ValueMesh[T], error) {
	if err := am.check(); err != nil {
		return nil, err
	}
	n := am.NumRanks()

	ctx, span := am.pm.tracer.Start(ctx, "mesh.call", trace.WithAttributes(
		attribute.String("mesh.actor", am.name),
		attribute.Int("mesh.targets", n),
	))
	defer span.End()

	results := make([]Result[T], n)
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range am.Refs() {
		g.Go(func() error {
			start := time.Now()
			kind := ""
			v, err := actor.Call(gctx, cx, ref, func(reply *actor.ReplyPort[T]) actor.Message {
				m := build(reply)
				kind = m.Kind()
				return m
			})
			am.pm.metrics.recordCall(gctx, am.name, kind, start, err)
			results[i] = Result[T]{Value: v, Err: err}
			if pf == actor.AbortAll && err != nil {
				p, _ := am.Point(i)
				return fmt.Errorf("%s: %w", p, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	vm := &ValueMesh[T]{region: am.region, results: results}
	if failed := vm.Failed(); len(failed) > 0 {
		span.SetAttributes(attribute.Int("mesh.failed", len(failed)))
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d targets failed", len(failed), n))
	}
	if err := ctx.Err(); err != nil {
		return vm, err
	}
	return vm, nil
}

// CallOne 向唯一目标发送调用式消息并返回值
//
// am 必须恰好指向一个目标，否则在发送前返回 *actor.CardinalityError。
func CallOne[T any](ctx context.Context, cx actor.CanOpenPort, am *ActorMesh, build func(*actor.ReplyPort[T]) actor.Message) (T, error) {
	var zero T
	ref, err := am.single()
	if err != nil {
		return zero, err
	}

	ctx, span := am.pm.tracer.Start(ctx, "mesh.call_one", trace.WithAttributes(
		attribute.String("mesh.actor", am.name),
		attribute.String("mesh.target", ref.String()),
	))
	defer span.End()

	start := time.Now()
	kind := ""
	v, err := actor.Call(ctx, cx, ref, func(reply *actor.ReplyPort[T]) actor.Message {
		m := build(reply)
		kind = m.Kind()
		return m
	})
	am.pm.metrics.recordCall(ctx, am.name, kind, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

// single 返回单目标句柄的唯一地址
func (am *ActorMesh) single() (actor.ActorID, error) {
	if err := am.check(); err != nil {
		return actor.ActorID{}, err
	}
	if n := am.NumRanks(); n != 1 {
		return actor.ActorID{}, &actor.CardinalityError{Expected: 1, Actual: n}
	}
	return am.Ref(0)
}

// ═══════════════════════════════════════════════════════════════════════════
// 单向
// ═══════════════════════════════════════════════════════════════════════════

// Cast 向 am 的每个目标发送单向消息
//
// 所有目标的邮箱都接收后返回（不等待处理）。build 每个目标调用一次。
// 投递失败按目标合并返回。
func Cast(ctx context.Context, cx actor.CanSend, am *ActorMesh, build func() actor.Message) error {
	if err := am.check(); err != nil {
		return err
	}
	refs := am.Refs()

	ctx, span := am.pm.tracer.Start(ctx, "mesh.cast", trace.WithAttributes(
		attribute.String("mesh.actor", am.name),
		attribute.Int("mesh.targets", len(refs)),
	))
	defer span.End()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for i, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := build()
			start := time.Now()
			err := actor.Tell(ctx, cx, ref, msg)
			am.pm.metrics.recordCall(ctx, am.name, msg.Kind(), start, err)
			if err != nil {
				p, _ := am.Point(i)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// CastOne 向唯一目标发送单向消息
func CastOne(ctx context.Context, cx actor.CanSend, am *ActorMesh, build func() actor.Message) error {
	ref, err := am.single()
	if err != nil {
		return err
	}
	msg := build()
	start := time.Now()
	err = actor.Tell(ctx, cx, ref, msg)
	am.pm.metrics.recordCall(ctx, am.name, msg.Kind(), start, err)
	return err
}
