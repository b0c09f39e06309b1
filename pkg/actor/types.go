package actor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

// Message Actor 消息接口
// 所有 Actor 间传递的消息都必须实现此接口
type Message interface {
	// Kind 返回消息类型标识，用于路由、解码和监控
	Kind() string
}

// Actor Actor 接口
// 实现此接口即可成为 Actor
type Actor interface {
	// Handle 处理一条消息
	// 返回的错误会被记录并上报，不会终止 Actor
	Handle(cx *Context, msg Message) error
}

// ActorFunc 函数式 Actor，便于快速创建简单 Actor
type ActorFunc func(cx *Context, msg Message) error

// Handle 实现 Actor 接口
func (f ActorFunc) Handle(cx *Context, msg Message) error {
	return f(cx, msg)
}

// Initializer 可选接口：Actor 启动前初始化
// Init 返回错误时 spawn 失败，Actor 不会被注册
type Initializer interface {
	Init(cx *Context) error
}

// Stopper 可选接口：Actor 停止后回调
type Stopper interface {
	Stopped(cx *Context)
}

// ═══════════════════════════════════════════════════════════════════════════
// 标识
// ═══════════════════════════════════════════════════════════════════════════

// ProcID 进程标识：所属 world 与 rank
type ProcID struct {
	World string `json:"world"`
	Rank  int    `json:"rank"`
}

// String 返回 world[rank]
func (p ProcID) String() string {
	return fmt.Sprintf("%s[%d]", p.World, p.Rank)
}

// ActorID Actor 全局地址
//
// Addr 是宿主 Proc 的传输地址，ActorID 本身即可路由。
type ActorID struct {
	Proc ProcID `json:"proc"`
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// String 返回 world[rank].name@addr
func (a ActorID) String() string {
	return fmt.Sprintf("%s.%s@%s", a.Proc, a.Name, a.Addr)
}

// IsZero 是否为零值
func (a ActorID) IsZero() bool { return a == ActorID{} }

// ParseActorID 解析 ActorID 的文本形式
func ParseActorID(s string) (ActorID, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return ActorID{}, fmt.Errorf("actor id %q: missing address", s)
	}
	left, addr := s[:at], s[at+1:]

	dot := strings.LastIndex(left, "].")
	if dot < 0 {
		return ActorID{}, fmt.Errorf("actor id %q: missing proc", s)
	}
	procPart, name := left[:dot+1], left[dot+2:]

	lb := strings.LastIndex(procPart, "[")
	if lb < 0 {
		return ActorID{}, fmt.Errorf("actor id %q: missing rank", s)
	}
	rank, err := strconv.Atoi(procPart[lb+1 : len(procPart)-1])
	if err != nil {
		return ActorID{}, fmt.Errorf("actor id %q: bad rank: %w", s, err)
	}
	return ActorID{
		Proc: ProcID{World: procPart[:lb], Rank: rank},
		Name: name,
		Addr: addr,
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Context
// ═══════════════════════════════════════════════════════════════════════════

// Context Actor 执行上下文
//
// Context 同时是 [CanSend] 与 [CanOpenPort] 能力：处理函数可以
// 发送消息，也可以发起嵌套的调用式请求。
type Context struct {
	self    ActorID
	sender  ActorID
	proc    *Proc
	mailbox *Mailbox
	ctx     context.Context
	message Message
	logger  *slog.Logger
}

// Self 当前 Actor 的地址
func (c *Context) Self() ActorID { return c.self }

// Sender 当前消息发送者的地址（未知时为零值）
func (c *Context) Sender() ActorID { return c.sender }

// Proc 宿主 Proc
func (c *Context) Proc() *Proc { return c.proc }

// Rank 宿主 Proc 的 rank
func (c *Context) Rank() int { return c.proc.id.Rank }

// Point 宿主 Proc 在 mesh 中的坐标
func (c *Context) Point() region.Point { return c.proc.point }

// Context 获取 Go context，Actor 停止时取消
func (c *Context) Context() context.Context { return c.ctx }

// Message 获取当前正在处理的消息
func (c *Context) Message() Message { return c.message }

// Logger 带 actor 属性的日志器
func (c *Context) Logger() *slog.Logger { return c.logger }

func (c *Context) sendingMailbox() *Mailbox { return c.mailbox }

func (c *Context) portMailbox() *Mailbox { return c.mailbox }
