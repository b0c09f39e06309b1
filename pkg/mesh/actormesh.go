package mesh

import (
	"fmt"
	"sync/atomic"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

// arena 一次 spawn 创建的所有实例地址，按基础 rank 索引
//
// 同一次 spawn 派生的所有切片共享同一个 arena。
type arena struct {
	ids     []actor.ActorID
	stopped atomic.Bool
}

// ActorMesh 一组同类型 Actor 实例的句柄
//
// ActorMesh 是 arena 上的一个 Region 视图。切片只缩小 Region，
// 不复制实例，切片与原句柄指向相同的 Actor。
type ActorMesh struct {
	pm        *ProcMesh
	name      string
	actorType string
	arena     *arena
	region    region.Region
}

func newActorMesh(pm *ProcMesh, name, actorType string, ids []actor.ActorID) *ActorMesh {
	return &ActorMesh{
		pm:        pm,
		name:      name,
		actorType: actorType,
		arena:     &arena{ids: ids},
		region:    pm.extent.Region(),
	}
}

func (am *ActorMesh) derive(r region.Region) *ActorMesh {
	return &ActorMesh{
		pm:        am.pm,
		name:      am.name,
		actorType: am.actorType,
		arena:     am.arena,
		region:    r,
	}
}

// check 句柄是否仍然有效
func (am *ActorMesh) check() error {
	if am.pm.stopped.Load() {
		return ErrMeshStopped
	}
	if am.arena.stopped.Load() {
		return fmt.Errorf("%w: %s", ErrActorMeshStopped, am.name)
	}
	return nil
}

// Name 返回 ActorMesh 名称
func (am *ActorMesh) Name() string { return am.name }

// ActorType 返回注册的 Actor 类型名
func (am *ActorMesh) ActorType() string { return am.actorType }

// ProcMesh 返回所属的 ProcMesh
func (am *ActorMesh) ProcMesh() *ProcMesh { return am.pm }

// Region 返回句柄覆盖的 Region
func (am *ActorMesh) Region() region.Region { return am.region }

// Extent 返回句柄的形状
func (am *ActorMesh) Extent() region.Extent { return am.region.Extent() }

// NumRanks 返回句柄指向的实例数量
func (am *ActorMesh) NumRanks() int { return am.region.NumRanks() }

// String 返回 name 与 Region
func (am *ActorMesh) String() string {
	return fmt.Sprintf("%s[%s]", am.name, am.region)
}

// ═══════════════════════════════════════════════════════════════════════════
// 切片
// ═══════════════════════════════════════════════════════════════════════════

// Slice 按维度约束切片
//
//	am.Slice(map[string]region.Range{"host": region.Single(1), "gpu": region.Span(0, 2)})
func (am *ActorMesh) Slice(constraints map[string]region.Range) (*ActorMesh, error) {
	r, err := am.region.Select(constraints)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", am.name, err)
	}
	return am.derive(r), nil
}

// Select 在单个维度上切片
func (am *ActorMesh) Select(dim string, rg region.Range) (*ActorMesh, error) {
	r, err := am.region.Range(dim, rg)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", am.name, err)
	}
	return am.derive(r), nil
}

// At 把若干维度固定为单个坐标；固定全部维度时得到单目标句柄
func (am *ActorMesh) At(coords map[string]int) (*ActorMesh, error) {
	r, err := am.region.At(coords)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", am.name, err)
	}
	return am.derive(r), nil
}

// GroupBy 沿 dim 拆分为子句柄
func (am *ActorMesh) GroupBy(dim string) ([]*ActorMesh, error) {
	regions, err := am.region.GroupBy(dim)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", am.name, err)
	}
	out := make([]*ActorMesh, len(regions))
	for i, r := range regions {
		out[i] = am.derive(r)
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 寻址
// ═══════════════════════════════════════════════════════════════════════════

// Rank 返回本地下标 i 对应的 Proc rank
func (am *ActorMesh) Rank(i int) (int, error) { return am.region.BaseRank(i) }

// Ref 返回本地下标 i 对应的 Actor 地址
func (am *ActorMesh) Ref(i int) (actor.ActorID, error) {
	base, err := am.region.BaseRank(i)
	if err != nil {
		return actor.ActorID{}, err
	}
	return am.arena.ids[base], nil
}

// Refs 按本地顺序返回所有 Actor 地址
func (am *ActorMesh) Refs() []actor.ActorID {
	ranks := am.region.Ranks()
	out := make([]actor.ActorID, len(ranks))
	for i, base := range ranks {
		out[i] = am.arena.ids[base]
	}
	return out
}

// Point 返回本地下标 i 在句柄中的坐标
func (am *ActorMesh) Point(i int) (region.Point, error) { return am.region.Point(i) }

// ProcPoint 返回本地下标 i 所在 Proc 在整个 ProcMesh 中的坐标
func (am *ActorMesh) ProcPoint(i int) (region.Point, error) {
	base, err := am.region.BaseRank(i)
	if err != nil {
		return region.Point{}, err
	}
	return am.pm.extent.PointOf(base)
}

// IndexOf 返回 Proc rank 在句柄中的本地下标
func (am *ActorMesh) IndexOf(rank int) (int, bool) { return am.region.IndexOf(rank) }
