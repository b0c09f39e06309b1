package mesh_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251217-go-pkg-mesh/internal/testactors"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/mesh"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// ═══════════════════════════════════════════════════════════════════════════
// 辅助
// ═══════════════════════════════════════════════════════════════════════════

func testPolicy() actor.Policy {
	p := actor.DefaultPolicy()
	p.CallTimeout = 5 * time.Second
	return p
}

func allocate(t *testing.T, extent region.Extent, allocOpts []mesh.LocalOption, opts ...mesh.Option) *mesh.ProcMesh {
	t.Helper()
	opts = append([]mesh.Option{mesh.WithPolicy(testPolicy())}, opts...)
	pm, err := mesh.Allocate(context.Background(), mesh.NewLocalAllocator(allocOpts...), extent, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pm.Stop(ctx)
	})
	return pm
}

func gpus(n int) region.Extent {
	return region.MustExtent([]string{"gpu"}, []int{n})
}

// flaky 在 failRank 上初始化失败
type flaky struct {
	failRank int
}

func (f *flaky) Init(cx *actor.Context) error {
	if cx.Rank() == f.failRank {
		return fmt.Errorf("flaky init on rank %d", cx.Rank())
	}
	return nil
}

func (f *flaky) Handle(cx *actor.Context, msg actor.Message) error { return nil }

// ═══════════════════════════════════════════════════════════════════════════
// 分配
// ═══════════════════════════════════════════════════════════════════════════

func TestAllocate_RankCoordinateBijection(t *testing.T) {
	extent := region.MustExtent([]string{"host", "gpu"}, []int{2, 4})
	pm := allocate(t, extent, nil)

	assert.Equal(t, 8, pm.NumRanks())
	for rank := range pm.NumRanks() {
		p, err := pm.CoordinateOf(rank)
		require.NoError(t, err)
		back, err := pm.RankOf(p.Coords()...)
		require.NoError(t, err)
		assert.Equal(t, rank, back)

		proc, err := pm.Proc(rank)
		require.NoError(t, err)
		assert.Equal(t, rank, proc.ID.Rank)
		assert.Equal(t, p.String(), proc.Point.String())
	}

	rank, err := pm.RankOf(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, rank)

	_, err = pm.Proc(8)
	assert.ErrorIs(t, err, region.ErrOutOfRange)
}

func TestAllocate_StatusAndEvents(t *testing.T) {
	pm := allocate(t, gpus(3), nil)

	status, err := pm.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, status.Len())
	for i, st := range status.Values() {
		assert.Equal(t, i, st.ID.Rank)
		assert.Equal(t, []string{mesh.AgentName}, st.Actors)
	}

	ups := 0
	for len(pm.Events()) > 0 {
		if ev := <-pm.Events(); ev.Kind == mesh.EventProcUp {
			ups++
		}
	}
	assert.Equal(t, 3, ups)
}

func TestAllocate_FailureTearsDown(t *testing.T) {
	network := transport.NewLocalNetwork()
	allocator := mesh.NewLocalAllocator(
		mesh.WithTransport(network.Factory()),
		mesh.WithBootHook(func(ctx context.Context, rank int) error {
			if rank == 2 {
				return errors.New("no accelerator")
			}
			return nil
		}),
	)

	pm, err := mesh.Allocate(context.Background(), allocator, gpus(4))
	require.Error(t, err)
	assert.Nil(t, pm)

	var ae *actor.AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "allocate", ae.Op)
	assert.Equal(t, 2, ae.Rank)
	assert.Contains(t, err.Error(), "no accelerator")

	// 没有任何 Proc 存活
	assert.Equal(t, 0, allocator.Live())
	assert.Equal(t, 0, network.Len())
}

func TestAllocate_CanceledContext(t *testing.T) {
	network := transport.NewLocalNetwork()
	allocator := mesh.NewLocalAllocator(mesh.WithTransport(network.Factory()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mesh.Allocate(ctx, allocator, gpus(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, allocator.Live())
	assert.Equal(t, 0, network.Len())
}

func TestAllocate_RejectsEmptyExtent(t *testing.T) {
	allocator := mesh.NewLocalAllocator()

	_, err := mesh.Allocate(context.Background(), allocator, region.Extent{})
	var ae *actor.AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, -1, ae.Rank)
	assert.ErrorIs(t, err, region.ErrInvalidDim)
	assert.Equal(t, 0, allocator.Live())

	// 超出 int 的形状在构造 Extent 时即被拒绝，不会到达分配器
	_, err = region.ParseExtent("host=4611686018427387904,gpu=3")
	assert.ErrorIs(t, err, region.ErrInvalidDim)
}

// ═══════════════════════════════════════════════════════════════════════════
// Spawn
// ═══════════════════════════════════════════════════════════════════════════

func TestSpawn_AllOrNothing(t *testing.T) {
	reg := actor.NewRegistry()
	reg.RegisterActor("flaky", actor.TypedFactory(func(p struct{ FailRank int }) (actor.Actor, error) {
		return &flaky{failRank: p.FailRank}, nil
	}))
	reg.RegisterActor(testactors.StoreType, actor.TypedFactory(func(p testactors.StoreParams) (actor.Actor, error) {
		return testactors.NewStore(p), nil
	}))

	pm := allocate(t, gpus(4), []mesh.LocalOption{mesh.WithRegistry(reg)})
	ctx := context.Background()

	_, err := pm.Spawn(ctx, "workers", "flaky", map[string]int{"FailRank": 1})
	require.Error(t, err)
	var ae *actor.AllocationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "spawn", ae.Op)
	assert.Equal(t, 1, ae.Rank)

	// 其它 rank 上已创建的实例都被回收
	status, err := pm.Status(ctx)
	require.NoError(t, err)
	for _, st := range status.Values() {
		assert.Equal(t, []string{mesh.AgentName}, st.Actors)
	}
	_, ok := pm.ActorMesh("workers")
	assert.False(t, ok)

	// 名称可以复用
	am, err := pm.Spawn(ctx, "workers", testactors.StoreType, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, am.NumRanks())
}

func TestSpawn_UnknownTypeFails(t *testing.T) {
	pm := allocate(t, gpus(2), nil)

	_, err := pm.Spawn(context.Background(), "x", "no.such.type", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, actor.ErrUnknownKind)
}

func TestSpawn_DuplicateName(t *testing.T) {
	pm := allocate(t, gpus(2), nil)
	ctx := context.Background()

	_, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)

	_, err = pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, actor.ErrActorExists)

	_, err = pm.Spawn(ctx, mesh.AgentName, testactors.StoreType, nil)
	assert.ErrorIs(t, err, actor.ErrActorExists)
}

func TestStopActor_InvalidatesHandles(t *testing.T) {
	pm := allocate(t, gpus(2), nil)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)
	one, err := am.At(map[string]int{"gpu": 1})
	require.NoError(t, err)

	require.NoError(t, pm.StopActor(ctx, "store"))

	_, err = testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
	assert.ErrorIs(t, err, mesh.ErrActorMeshStopped)
	_, err = testactors.StoreMeshClient{Mesh: one}.ExistsOne(ctx, pm.Client(), "k")
	assert.ErrorIs(t, err, mesh.ErrActorMeshStopped)

	assert.ErrorIs(t, pm.StopActor(ctx, "store"), actor.ErrActorNotFound)

	status, err := pm.Status(ctx)
	require.NoError(t, err)
	for _, st := range status.Values() {
		assert.Equal(t, []string{mesh.AgentName}, st.Actors)
	}
}

func TestStop_InvalidatesEverything(t *testing.T) {
	pm, err := mesh.Allocate(context.Background(), mesh.NewLocalAllocator(), gpus(2))
	require.NoError(t, err)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)

	require.NoError(t, pm.Stop(ctx))
	require.NoError(t, pm.Stop(ctx))
	assert.True(t, pm.IsStopped())

	_, err = pm.Spawn(ctx, "other", testactors.StoreType, nil)
	assert.ErrorIs(t, err, mesh.ErrMeshStopped)
	_, err = testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
	assert.ErrorIs(t, err, mesh.ErrMeshStopped)
	assert.ErrorIs(t, testactors.StoreMeshClient{Mesh: am}.Put(ctx, pm.Client(), "k", "v"), mesh.ErrMeshStopped)

	// 事件通道已关闭
	downs := 0
	for ev := range pm.Events() {
		if ev.Kind == mesh.EventProcDown {
			downs++
		}
	}
	assert.Equal(t, 2, downs)
}

// ═══════════════════════════════════════════════════════════════════════════
// 场景
// ═══════════════════════════════════════════════════════════════════════════

func TestPingPong_2x2(t *testing.T) {
	extent := region.MustExtent([]string{"replica", "gpu"}, []int{2, 2})
	pm := allocate(t, extent, nil)
	ctx := context.Background()

	ping, err := pm.Spawn(ctx, "ping", testactors.PlayerType, nil)
	require.NoError(t, err)
	pong, err := pm.Spawn(ctx, "pong", testactors.PlayerType, nil)
	require.NoError(t, err)

	origin := map[string]int{"replica": 0, "gpu": 0}
	a0, err := ping.At(origin)
	require.NoError(t, err)
	b0, err := pong.At(origin)
	require.NoError(t, err)
	peer, err := b0.Ref(0)
	require.NoError(t, err)
	sender, err := a0.Ref(0)
	require.NoError(t, err)

	require.NoError(t, testactors.PingPongMeshClient{Mesh: a0}.SendOne(ctx, pm.Client(), peer))

	require.Eventually(t, func() bool {
		got, err := testactors.PingPongMeshClient{Mesh: b0}.ReceivedOne(ctx, pm.Client())
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	received, err := testactors.PingPongMeshClient{Mesh: pong}.Received(ctx, pm.Client())
	require.NoError(t, err)
	require.Equal(t, 4, received.Len())

	r0, err := received.At(origin)
	require.NoError(t, err)
	require.NoError(t, r0.Err)
	assert.Equal(t, []actor.ActorID{sender}, r0.Value)

	for i := 1; i < received.Len(); i++ {
		r, err := received.Get(i)
		require.NoError(t, err)
		require.NoError(t, r.Err)
		assert.Empty(t, r.Value, "pong rank %d", i)
	}

	// ping 一侧没有收到任何消息
	pinged, err := testactors.PingPongMeshClient{Mesh: ping}.Received(ctx, pm.Client())
	require.NoError(t, err)
	for _, v := range pinged.Values() {
		assert.Empty(t, v)
	}
}

func TestExists_4Wide(t *testing.T) {
	pm := allocate(t, gpus(4), nil)
	ctx := context.Background()

	t.Run("all fulfilled", func(t *testing.T) {
		am, err := pm.Spawn(ctx, "healthy", testactors.StoreType, testactors.StoreParams{
			Seed: map[string]string{"k": "v"},
		})
		require.NoError(t, err)

		found, err := testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
		require.NoError(t, err)
		require.Equal(t, 4, found.Len())
		require.NoError(t, found.Err())
		assert.Equal(t, []bool{true, true, true, true}, found.Values())
	})

	t.Run("one target fails", func(t *testing.T) {
		am, err := pm.Spawn(ctx, "degraded", testactors.StoreType, testactors.StoreParams{
			Seed:      map[string]string{"k": "v"},
			FailRanks: []int{2},
		})
		require.NoError(t, err)

		found, err := testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
		require.NoError(t, err)
		require.Equal(t, 4, found.Len())
		assert.Equal(t, []int{2}, found.Failed())

		for i := range found.Len() {
			r, err := found.Get(i)
			require.NoError(t, err)
			if i == 2 {
				var he *actor.HandlerError
				require.ErrorAs(t, r.Err, &he)
				assert.Equal(t, "testactors.Store.Exists", he.Kind)
				assert.Contains(t, he.Error(), "store unavailable on rank 2")
				continue
			}
			assert.NoError(t, r.Err)
			assert.True(t, r.Value)
		}

		_, err = mesh.Collect(found)
		assert.Error(t, err)
	})
}

func TestCall_AbortAll(t *testing.T) {
	policy := testPolicy()
	policy.PartialFailure = actor.AbortAll
	pm := allocate(t, gpus(4), nil, mesh.WithPolicy(policy))
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "degraded", testactors.StoreType, testactors.StoreParams{FailRanks: []int{3}})
	require.NoError(t, err)

	found, err := testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
	require.Error(t, err)
	assert.Nil(t, found)
	var he *actor.HandlerError
	assert.ErrorAs(t, err, &he)
}

func TestSliceCallOneMatchesCall(t *testing.T) {
	extent := region.MustExtent([]string{"host", "gpu"}, []int{2, 3})
	pm := allocate(t, extent, nil)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)
	client := testactors.StoreMeshClient{Mesh: am}

	all, err := client.Sleep(ctx, pm.Client(), 0)
	require.NoError(t, err)

	for p, want := range all.Entries() {
		coords := map[string]int{}
		for _, l := range p.Extent().Labels() {
			coords[l], _ = p.Coord(l)
		}
		one, err := am.At(coords)
		require.NoError(t, err)
		require.Equal(t, 1, one.NumRanks())

		got, err := testactors.StoreMeshClient{Mesh: one}.SleepOne(ctx, pm.Client(), 0)
		require.NoError(t, err)
		assert.Equal(t, want.Value, got, "at %s", p)
		assert.Equal(t, p.Rank(), got)
	}
}

func TestSlice_SharesInstances(t *testing.T) {
	extent := region.MustExtent([]string{"host", "gpu"}, []int{2, 4})
	pm := allocate(t, extent, nil)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)

	host1, err := am.Select("host", region.Single(1))
	require.NoError(t, err)
	evens, err := host1.Select("gpu", region.Stepped(0, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, evens.NumRanks())

	// 通过切片写入，通过整体读出
	require.NoError(t, testactors.StoreMeshClient{Mesh: evens}.Put(ctx, pm.Client(), "k", "v"))

	found, err := testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, true, false, true, false}, found.Values())

	refs := evens.Refs()
	all := am.Refs()
	assert.Equal(t, all[4], refs[0])
	assert.Equal(t, all[6], refs[1])

	rank, err := evens.Rank(1)
	require.NoError(t, err)
	assert.Equal(t, 6, rank)
}

func TestCallOne_Cardinality(t *testing.T) {
	pm := allocate(t, gpus(4), nil)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	require.NoError(t, err)
	client := testactors.StoreMeshClient{Mesh: am}

	_, err = client.ExistsOne(ctx, pm.Client(), "k")
	var ce *actor.CardinalityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Expected)
	assert.Equal(t, 4, ce.Actual)

	err = client.PutOne(ctx, pm.Client(), "k", "v")
	assert.ErrorAs(t, err, &ce)

	// 请求在发送前被拒绝
	found, err := client.Exists(ctx, pm.Client(), "k")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false}, found.Values())
}

func TestCall_CancellationReleasesPorts(t *testing.T) {
	pm := allocate(t, gpus(3), nil)

	am, err := pm.Spawn(context.Background(), "store", testactors.StoreType, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := testactors.StoreMeshClient{Mesh: am}.Sleep(ctx, pm.Client(), 10*time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)

	for i := range res.Len() {
		r, _ := res.Get(i)
		var ab *actor.AbandonmentError
		assert.ErrorAs(t, r.Err, &ab, "rank %d", i)
	}
}

func TestCall_CancelReleasesPorts(t *testing.T) {
	pm := allocate(t, gpus(3), nil)

	am, err := pm.Spawn(context.Background(), "store", testactors.StoreType, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res, err := testactors.StoreMeshClient{Mesh: am}.Sleep(ctx, pm.Client(), 10*time.Second)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	for i := range res.Len() {
		r, _ := res.Get(i)
		var ab *actor.AbandonmentError
		assert.ErrorAs(t, r.Err, &ab, "rank %d", i)
		assert.ErrorIs(t, r.Err, context.Canceled, "rank %d", i)
	}
}

func TestEvents_ActorFailed(t *testing.T) {
	pm := allocate(t, gpus(2), nil)
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, testactors.StoreParams{FailRanks: []int{1}})
	require.NoError(t, err)
	_, err = testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), "k")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-pm.Events():
			if ev.Kind != mesh.EventActorFailed {
				continue
			}
			assert.Equal(t, 1, ev.Rank)
			assert.Equal(t, "store", ev.Actor)
			assert.Contains(t, ev.Reason, "store unavailable")
			return
		case <-deadline:
			t.Fatal("no actor_failed event")
		}
	}
}

func TestMesh_QUIC(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping QUIC test in short mode")
	}
	serverTLS, clientTLS, err := transport.NewDevTLS("127.0.0.1")
	require.NoError(t, err)

	pm := allocate(t, gpus(2), []mesh.LocalOption{
		mesh.WithTransport(transport.QUICFactory("127.0.0.1", serverTLS, clientTLS)),
	})
	ctx := context.Background()

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, testactors.StoreParams{
		Seed:      map[string]string{"k": "v"},
		FailRanks: []int{1},
	})
	require.NoError(t, err)

	got, err := testactors.StoreMeshClient{Mesh: am}.Get(ctx, pm.Client(), "k")
	require.NoError(t, err)

	r0, _ := got.Get(0)
	require.NoError(t, r0.Err)
	assert.Equal(t, "v", r0.Value)

	r1, _ := got.Get(1)
	var he *actor.HandlerError
	require.ErrorAs(t, r1.Err, &he)
	assert.Equal(t, "testactors.Store.Get", he.Kind)
}
