package actor

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// instance Actor 实例及其运行时状态
type instance struct {
	id      ActorID
	actor   Actor
	mailbox *Mailbox
	proc    *Proc
	stats   *StatsCollector
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (i *instance) context(env envelope) *Context {
	return &Context{
		self:    i.id,
		sender:  env.sender,
		proc:    i.proc,
		mailbox: i.mailbox,
		ctx:     i.ctx,
		message: env.message,
		logger:  i.logger,
	}
}

// run 消息处理循环
func (i *instance) run() {
	defer i.proc.wg.Done()
	defer close(i.done)

	for {
		env, ok := i.mailbox.next(i.ctx)
		if !ok {
			break
		}
		i.process(env)
	}

	if s, ok := i.actor.(Stopper); ok {
		_ = Invoke(func() error {
			s.Stopped(i.context(envelope{}))
			return nil
		})
	}
}

// process 处理单条消息，错误和 panic 都不会终止循环
func (i *instance) process(env envelope) {
	kind := env.message.Kind()
	i.stats.RecordReceived(kind)
	start := time.Now()

	err := Invoke(func() error {
		return i.actor.Handle(i.context(env), env.message)
	})
	latency := time.Since(start)
	if err == nil {
		i.stats.RecordHandled(latency)
		return
	}

	i.stats.RecordError(err, latency)

	var he *HandlerError
	if errors.As(err, &he) && he.Panic != nil {
		if i.proc.config.PanicHandler != nil {
			i.proc.config.PanicHandler(i.id, env.message, he.Panic)
		} else {
			i.logger.Error("panic in actor", "kind", kind, "error", he.Panic, "stack", string(he.Stack))
		}
	} else {
		i.logger.Warn("handler failed", "kind", kind, "sender", env.sender.String(), "error", err)
	}

	i.proc.reportFailure(Failure{Actor: i.id, Kind: kind, Err: err, At: time.Now()})
}

// stop 关闭邮箱并取消上下文；排队中的消息被丢弃
func (i *instance) stop() {
	dropped := i.mailbox.close()
	i.cancel()
	if len(dropped) > 0 {
		i.logger.Debug("dropped queued messages on stop", "count", len(dropped))
	}
}
