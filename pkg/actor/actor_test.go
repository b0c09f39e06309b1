package actor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/transport"
)

// ============== 测试消息类型 ==============

type countMsg struct {
	Value int `json:"value"`
}

func (m *countMsg) Kind() string { return "test.count" }

type getCountMsg struct {
	Reply *ReplyPort[int] `json:"reply"`
}

func (m *getCountMsg) Kind() string { return "test.get_count" }

type failMsg struct {
	Reason string          `json:"reason"`
	Reply  *ReplyPort[int] `json:"reply"`
}

func (m *failMsg) Kind() string { return "test.fail" }

type panicMsg struct {
	Reply *ReplyPort[int] `json:"reply"`
}

func (m *panicMsg) Kind() string { return "test.panic" }

type dropMsg struct {
	Reply *ReplyPort[int] `json:"reply"`
}

func (m *dropMsg) Kind() string { return "test.drop" }

type holdMsg struct {
	Reply *ReplyPort[int] `json:"reply"`
}

func (m *holdMsg) Kind() string { return "test.hold" }

type blockMsg struct {
	release chan struct{}
}

func (m *blockMsg) Kind() string { return "test.block" }

func testRegistry() *Registry {
	r := NewRegistry()
	r.RegisterMessage(func() Message { return new(countMsg) })
	r.RegisterMessage(func() Message { return new(getCountMsg) })
	r.RegisterMessage(func() Message { return new(failMsg) })
	r.RegisterMessage(func() Message { return new(panicMsg) })
	r.RegisterMessage(func() Message { return new(dropMsg) })
	r.RegisterMessage(func() Message { return new(holdMsg) })
	r.RegisterActor("counter", TypedFactory(func(p struct{ Start int }) (Actor, error) {
		return &counterActor{count: p.Start}, nil
	}))
	return r
}

// ============== 测试 Actor ==============

type counterActor struct {
	count   int
	seen    []int
	held    []*ReplyPort[int]
	handled atomic.Int32
	mu      sync.Mutex
}

func (a *counterActor) Handle(cx *Context, msg Message) error {
	a.handled.Add(1)
	switch m := msg.(type) {
	case *countMsg:
		a.count += m.Value
		a.mu.Lock()
		a.seen = append(a.seen, m.Value)
		a.mu.Unlock()
	case *getCountMsg:
		return m.Reply.Send(cx, a.count)
	case *failMsg:
		return CompleteReply(cx, m.Reply, 0, errors.New(m.Reason))
	case *panicMsg:
		v, err := InvokeValue(func() (int, error) { panic("boom") })
		return CompleteReply(cx, m.Reply, v, err)
	case *dropMsg:
		return m.Reply.Drop(cx)
	case *holdMsg:
		a.held = append(a.held, m.Reply)
	case *blockMsg:
		<-m.release
	}
	return nil
}

func (a *counterActor) seenValues() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.seen...)
}

// ============== 测试辅助 ==============

func newTestProc(t *testing.T, tr transport.Transport, rank int, policy Policy) *Proc {
	t.Helper()
	cfg := DefaultProcConfig()
	cfg.Policy = policy
	cfg.Registry = testRegistry()
	p, err := NewProc(ProcID{World: "test", Rank: rank}, tr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.CallTimeout = 2 * time.Second
	return p
}

func getCount(ctx context.Context, cx CanOpenPort, to ActorID) (int, error) {
	return Call(ctx, cx, to, func(reply *ReplyPort[int]) Message {
		return &getCountMsg{Reply: reply}
	})
}

// ============== 基础 ==============

func TestActorID_ParseRoundTrip(t *testing.T) {
	id := ActorID{Proc: ProcID{World: "mesh-1a2b", Rank: 3}, Name: "store", Addr: "127.0.0.1:4433"}
	assert.Equal(t, "mesh-1a2b[3].store@127.0.0.1:4433", id.String())

	parsed, err := ParseActorID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseActorID("no-address")
	assert.Error(t, err)
	_, err = ParseActorID("w[x].a@addr")
	assert.Error(t, err)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("ping_0"))
	for _, bad := range []string{"", "a.b", "a@b", "a b", "x[1]"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, bad)
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxQueueDepth: -1, PartialFailure: PerTarget}.Validate())
	assert.Error(t, Policy{PartialFailure: "sometimes"}.Validate())
}

// ============== Proc ==============

func TestProc_SpawnTellCall(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())

	a := &counterActor{}
	id, err := p.SpawnActor("counter", a)
	require.NoError(t, err)
	assert.Equal(t, "counter", id.Name)
	assert.Equal(t, p.Address(), id.Addr)

	client, err := p.Attach("client")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, Tell(ctx, client, id, &countMsg{Value: 2}))
	require.NoError(t, Tell(ctx, client, id, &countMsg{Value: 3}))

	n, err := getCount(ctx, client, id)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stats, ok := p.ActorStats("counter")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.MessagesReceived)
	assert.Equal(t, int64(2), stats.ByKind["test.count"])

	ps := p.Stats()
	assert.Equal(t, 1, ps.Actors)
	assert.Equal(t, 1, ps.Sessions)
}

func TestProc_SpawnByType(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, err := p.Attach("client")
	require.NoError(t, err)

	id, err := p.Spawn("c", "counter", json.RawMessage(`{"Start": 40}`))
	require.NoError(t, err)

	n, err := getCount(context.Background(), client, id)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	_, err = p.Spawn("d", "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestProc_DuplicateAndInvalidNames(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())

	_, err := p.SpawnActor("a", &counterActor{})
	require.NoError(t, err)
	_, err = p.SpawnActor("a", &counterActor{})
	assert.ErrorIs(t, err, ErrActorExists)
	_, err = p.Attach("a")
	assert.ErrorIs(t, err, ErrActorExists)
	_, err = p.SpawnActor("a.b", &counterActor{})
	assert.ErrorIs(t, err, ErrInvalidName)
}

type failingInit struct{ counterActor }

func (f *failingInit) Init(*Context) error { return errors.New("no gpu") }

func TestProc_InitFailure(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())

	_, err := p.SpawnActor("broken", &failingInit{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gpu")

	_, ok := p.Lookup("broken")
	assert.False(t, ok)
	assert.Empty(t, p.Actors())
}

func TestProc_StopActor(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, err := p.Attach("client")
	require.NoError(t, err)

	id, err := p.SpawnActor("a", &counterActor{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.StopActor(ctx, "a"))
	assert.ErrorIs(t, p.StopActor(ctx, "a"), ErrActorNotFound)

	err = Tell(ctx, client, id, &countMsg{Value: 1})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrActorNotFound)
	assert.Equal(t, int64(1), p.Stats().DeadLetters)
}

func TestProc_StoppedRejectsWork(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())

	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.IsRunning())
	_, err := p.SpawnActor("late", &counterActor{})
	assert.ErrorIs(t, err, ErrProcStopped)
	assert.Equal(t, 0, network.Len())
}

// ============== 保序与背压 ==============

func TestOrderingPreservedPerSender(t *testing.T) {
	network := transport.NewLocalNetwork()
	host := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	remote := newTestProc(t, network.NewTransport(), 1, fastPolicy())

	a := &counterActor{}
	id, err := host.SpawnActor("a", a)
	require.NoError(t, err)
	client, err := remote.Attach("client")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, Tell(ctx, client, id, &countMsg{Value: i}))
	}
	// 调用式消息排在所有单向消息之后
	_, err = getCount(ctx, client, id)
	require.NoError(t, err)

	seen := a.seenValues()
	require.Len(t, seen, 100)
	for i, v := range seen {
		assert.Equal(t, i, v)
	}
}

func TestBoundedMailboxRejects(t *testing.T) {
	network := transport.NewLocalNetwork()
	policy := fastPolicy()
	policy.MaxQueueDepth = 1
	p := newTestProc(t, network.NewTransport(), 0, policy)
	client, err := p.Attach("client")
	require.NoError(t, err)

	id, err := p.SpawnActor("slow", &counterActor{})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	ctx := context.Background()

	require.NoError(t, Tell(ctx, client, id, &blockMsg{release: release}))
	// 等待 blockMsg 出队并阻塞处理循环
	require.Eventually(t, func() bool {
		mb, _ := p.mailboxFor("slow")
		return mb.Len() == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, Tell(ctx, client, id, &countMsg{Value: 1}))
	err = Tell(ctx, client, id, &countMsg{Value: 2})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrMailboxFull)
}

// ============== 回复端口 ==============

func TestReplyPort_HandlerErrorPropagates(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	id, _ := p.SpawnActor("a", &counterActor{})

	_, err := Call(context.Background(), client, id, func(reply *ReplyPort[int]) Message {
		return &failMsg{Reason: "disk on fire", Reply: reply}
	})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "test.fail", he.Kind)
	assert.Equal(t, id.String(), he.Actor)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Eventually(t, func() bool { return p.Stats().Failures == 1 }, time.Second, 5*time.Millisecond)
}

func TestReplyPort_PanicIsContained(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	id, _ := p.SpawnActor("a", &counterActor{})

	ctx := context.Background()
	_, err := Call(ctx, client, id, func(reply *ReplyPort[int]) Message {
		return &panicMsg{Reply: reply}
	})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Contains(t, err.Error(), "boom")

	// 实例仍然存活
	n, err := getCount(ctx, client, id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReplyPort_SecondSendFails(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")

	port, rx := OpenPort[string](client)
	require.NoError(t, port.Send(client, "first"))
	assert.ErrorIs(t, port.Send(client, "second"), ErrPortClosed)
	assert.ErrorIs(t, port.Fail(client, errors.New("late")), ErrPortClosed)
	assert.True(t, port.Done())

	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, PortFulfilled, rx.State())
}

func TestPortOwnerRejectsDuplicate(t *testing.T) {
	network := transport.NewLocalNetwork()
	owner := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	other := newTestProc(t, network.NewTransport(), 1, fastPolicy())
	client, _ := owner.Attach("client")
	responder, _ := other.Attach("responder")

	port, rx := OpenPort[int](client)

	// 端口序列化后在另一侧出现两份副本
	raw, err := json.Marshal(port)
	require.NoError(t, err)
	var a, b ReplyPort[int]
	require.NoError(t, json.Unmarshal(raw, &a))
	require.NoError(t, json.Unmarshal(raw, &b))
	assert.Equal(t, port.ID(), a.ID())

	require.NoError(t, a.Send(responder, 1))
	err = b.Send(responder, 2)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrPortClosed)

	v, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestReplyPort_DropIsAbandonment(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	id, _ := p.SpawnActor("a", &counterActor{})

	_, err := Call(context.Background(), client, id, func(reply *ReplyPort[int]) Message {
		return &dropMsg{Reply: reply}
	})
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.True(t, ab.Dropped)
}

func TestReplyPort_TimeoutIsAbandonment(t *testing.T) {
	network := transport.NewLocalNetwork()
	policy := fastPolicy()
	policy.CallTimeout = 50 * time.Millisecond
	p := newTestProc(t, network.NewTransport(), 0, policy)
	client, _ := p.Attach("client")
	a := &counterActor{}
	id, _ := p.SpawnActor("a", a)

	start := time.Now()
	_, err := Call(context.Background(), client, id, func(reply *ReplyPort[int]) Message {
		return &holdMsg{Reply: reply}
	})
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.False(t, ab.Dropped)
	assert.Equal(t, 50*time.Millisecond, ab.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCall_CancelIsAbandonment(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	id, _ := p.SpawnActor("a", &counterActor{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := Call(ctx, client, id, func(reply *ReplyPort[int]) Message {
		return &holdMsg{Reply: reply}
	})
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.False(t, ab.Dropped)
	assert.Zero(t, ab.Timeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestPortReceiver_CancelReleasesPort(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")

	port, rx := OpenPort[int](client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rx.Recv(ctx)
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PortAbandoned, rx.State())

	// 迟到的回复被拒绝
	err = port.Send(client, 7)
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestMailboxCloseAbandonsPorts(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")

	_, rx := OpenPort[int](client)
	p.Detach("client")

	_, err := rx.Recv(context.Background())
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailboxClose_PortOpenedAfterCloseIsAbandoned(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	p.Detach("client")

	_, rx := OpenPort[int](client)
	assert.Equal(t, PortAbandoned, rx.State())

	_, err := rx.Recv(context.Background())
	var ab *AbandonmentError
	require.ErrorAs(t, err, &ab)
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailboxClose_ConcurrentOpenPortNeverOrphaned(t *testing.T) {
	for round := range 50 {
		network := transport.NewLocalNetwork()
		p := newTestProc(t, network.NewTransport(), round, fastPolicy())
		client, _ := p.Attach("client")

		const openers = 8
		var wg sync.WaitGroup
		rxs := make(chan *PortReceiver[int], openers)
		start := make(chan struct{})
		for range openers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, rx := OpenPort[int](client)
				rxs <- rx
			}()
		}
		close(start)
		p.Detach("client")
		wg.Wait()
		close(rxs)

		// 每个端口要么在关闭时被放弃，要么打开时就已放弃，不会一直挂起
		for rx := range rxs {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, err := rx.Recv(ctx)
			cancel()
			assert.ErrorIs(t, err, ErrMailboxClosed, "round %d", round)
		}
	}
}

// ============== 能力 ==============

func TestAuthorization_SendOnlyCannotAsk(t *testing.T) {
	network := transport.NewLocalNetwork()
	p := newTestProc(t, network.NewTransport(), 0, fastPolicy())
	client, _ := p.Attach("client")
	a := &counterActor{}
	id, _ := p.SpawnActor("a", a)

	token := client.SendOnly()
	_, err := Ask(context.Background(), token, id, func(reply *ReplyPort[int]) Message {
		return &getCountMsg{Reply: reply}
	})
	var ae *AuthorizationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "open_port", ae.Need)

	// 没有消息离开调用方
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), a.handled.Load())

	// 只有发送能力仍然可以发送单向消息
	require.NoError(t, Tell(context.Background(), token, id, &countMsg{Value: 1}))

	// 完整能力走同一条动态路径
	n, err := Ask(context.Background(), client, id, func(reply *ReplyPort[int]) Message {
		return &getCountMsg{Reply: reply}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// ============== 跨进程 ==============

func TestCrossProc_QUIC(t *testing.T) {
	serverTLS, clientTLS, err := transport.NewDevTLS()
	require.NoError(t, err)
	factory := transport.QUICFactory("127.0.0.1", serverTLS, clientTLS)

	host := newTestProc(t, factory(), 0, fastPolicy())
	caller := newTestProc(t, factory(), 1, fastPolicy())

	id, err := host.SpawnActor("a", &counterActor{})
	require.NoError(t, err)
	client, err := caller.Attach("client")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, Tell(ctx, client, id, &countMsg{Value: 11}))
	n, err := getCount(ctx, client, id)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	_, err = Call(ctx, client, id, func(reply *ReplyPort[int]) Message {
		return &failMsg{Reason: "remote failure", Reply: reply}
	})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "test.fail", he.Kind)
	assert.Contains(t, err.Error(), "remote failure")
}
