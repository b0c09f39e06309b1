// Package testactors 测试和示例使用的 Actor
package testactors

import (
	"fmt"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
)

//go:generate go run ../../cmd/meshgen $GOFILE

// PlayerType Player 的注册类型名
const PlayerType = "testactors.player"

//meshgen:enum PingPong
type (
	// Send 让 Player 向 Peer 发送一次 Recv
	Send struct {
		Peer actor.ActorID `json:"peer"`
	}

	// Recv 来自另一个 Player 的消息
	Recv struct {
		From actor.ActorID `json:"from"`
	}

	// Received 查询收到的 Recv 发送者
	Received struct {
		Reply *actor.ReplyPort[[]actor.ActorID] `json:"reply"`
	}
)

// Player 乒乓 Actor，记录收到的每条 Recv
type Player struct {
	received []actor.ActorID
}

var _ PingPongHandler = (*Player)(nil)

// NewPlayer 创建 Player
func NewPlayer() *Player { return &Player{} }

// Handle 实现 actor.Actor 接口
func (p *Player) Handle(cx *actor.Context, msg actor.Message) error {
	handled, err := HandlePingPong(cx, p, msg)
	if !handled {
		return fmt.Errorf("%w: %s", actor.ErrUnknownKind, msg.Kind())
	}
	return err
}

// Send 实现 PingPongHandler
func (p *Player) Send(cx *actor.Context, peer actor.ActorID) error {
	return PingPongClient{ID: peer}.Recv(cx.Context(), cx, cx.Self())
}

// Recv 实现 PingPongHandler
func (p *Player) Recv(cx *actor.Context, from actor.ActorID) error {
	p.received = append(p.received, from)
	cx.Logger().Debug("recv", "from", from.String(), "rank", cx.Rank())
	return nil
}

// Received 实现 PingPongHandler
func (p *Player) Received(cx *actor.Context) ([]actor.ActorID, error) {
	return append([]actor.ActorID{}, p.received...), nil
}

func init() {
	actor.RegisterActor(PlayerType, actor.TypedFactory(func(struct{}) (actor.Actor, error) {
		return NewPlayer(), nil
	}))
}
