package mesh

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
)

//go:generate go run ../../cmd/meshgen --mesh-client=false $GOFILE

// AgentName 每个 Proc 上管理 Actor 的名称
const AgentName = "agent"

// Agent 消息集合：mesh 对单个 Proc 的管理操作
//
//meshgen:enum Agent
type (
	// Gspawn 在 Proc 上创建一个 mesh 成员
	Gspawn struct {
		Name      string                          `json:"name"`
		ActorType string                          `json:"actor_type"`
		Params    json.RawMessage                 `json:"params,omitempty"`
		Reply     *actor.ReplyPort[actor.ActorID] `json:"reply"`
	}

	// StopActor 停止 Proc 上的 Actor，回复是否存在
	StopActor struct {
		Name  string                 `json:"name"`
		Reply *actor.ReplyPort[bool] `json:"reply"`
	}

	// Status 查询 Proc 状态
	Status struct {
		Reply *actor.ReplyPort[ProcStatus] `json:"reply"`
	}
)

// ProcStatus Proc 状态快照
type ProcStatus struct {
	ID     actor.ProcID    `json:"id"`
	Point  string          `json:"point"`
	Addr   string          `json:"addr"`
	Actors []string        `json:"actors"`
	Stats  actor.ProcStats `json:"stats"`
}

// agent 实现 AgentHandler
//
// agent 只操作自己所在的 Proc，Proc 内的并发由 Actor 串行处理保证。
type agent struct{}

var _ AgentHandler = (*agent)(nil)

func newAgent() actor.Actor {
	return actor.ActorFunc(func(cx *actor.Context, msg actor.Message) error {
		handled, err := HandleAgent(cx, &agent{}, msg)
		if !handled {
			return fmt.Errorf("%w: %s", actor.ErrUnknownKind, msg.Kind())
		}
		return err
	})
}

// Gspawn 实现 AgentHandler
func (a *agent) Gspawn(cx *actor.Context, name string, actorType string, params json.RawMessage) (actor.ActorID, error) {
	if err := actor.ValidateName(name); err != nil {
		return actor.ActorID{}, err
	}
	if name == AgentName {
		return actor.ActorID{}, fmt.Errorf("%w: %s is reserved", actor.ErrActorExists, name)
	}
	id, err := cx.Proc().Spawn(name, actorType, params)
	if err != nil {
		return actor.ActorID{}, err
	}
	cx.Logger().Debug("mesh member spawned", "name", name, "type", actorType, "rank", cx.Rank())
	return id, nil
}

// StopActor 实现 AgentHandler
func (a *agent) StopActor(cx *actor.Context, name string) (bool, error) {
	if name == AgentName {
		return false, fmt.Errorf("agent cannot stop itself")
	}
	err := cx.Proc().StopActor(cx.Context(), name)
	if errors.Is(err, actor.ErrActorNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Status 实现 AgentHandler
func (a *agent) Status(cx *actor.Context) (ProcStatus, error) {
	p := cx.Proc()
	return ProcStatus{
		ID:     p.ID(),
		Point:  p.Point().String(),
		Addr:   p.Address(),
		Actors: p.Actors(),
		Stats:  p.Stats(),
	}, nil
}
