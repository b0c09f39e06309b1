package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	envs []*Envelope
	fail error
}

func (r *recorder) handle(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) received() []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Envelope(nil), r.envs...)
}

// ============== 版本 ==============

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion(ProtocolVersion))
	assert.NoError(t, CheckVersion("1.4.2"))
	assert.ErrorIs(t, CheckVersion("2.0.0"), ErrRejected)
	assert.ErrorIs(t, CheckVersion(""), ErrRejected)
	assert.ErrorIs(t, CheckVersion("not-a-version"), ErrRejected)
}

func TestEnvelope_Encode(t *testing.T) {
	env := &Envelope{Kind: "test.echo", Dest: "echo", Value: map[string]string{"text": "hi"}}
	wire, err := env.Encode(JSONCodec{})
	require.NoError(t, err)

	assert.Equal(t, ProtocolVersion, wire.Version)
	assert.Nil(t, wire.Value)
	assert.JSONEq(t, `{"text":"hi"}`, string(wire.Body))
	// 原信封不变
	assert.Nil(t, env.Body)
}

// ============== LocalNetwork ==============

func TestLocalTransport_SendAndAck(t *testing.T) {
	network := NewLocalNetwork()
	rec := &recorder{}

	server := network.NewTransport()
	require.NoError(t, server.Start("", rec.handle))
	client := network.NewTransport()
	require.NoError(t, client.Start("", (&recorder{}).handle))
	assert.Equal(t, 2, network.Len())

	for i := 0; i < 10; i++ {
		err := client.Send(context.Background(), server.Address(), &Envelope{Kind: "k", Seq: uint64(i)})
		require.NoError(t, err)
	}

	got := rec.received()
	require.Len(t, got, 10)
	for i, env := range got {
		assert.Equal(t, uint64(i), env.Seq, "per-sender order")
	}
}

func TestLocalTransport_Errors(t *testing.T) {
	network := NewLocalNetwork()
	rec := &recorder{fail: errors.New("mailbox full")}

	server := network.NewTransport()
	require.NoError(t, server.Start("local://server", rec.handle))
	client := network.NewTransport()
	require.NoError(t, client.Start("", rec.handle))

	// 重复绑定
	dup := network.NewTransport()
	assert.Error(t, dup.Start("local://server", rec.handle))

	err := client.Send(context.Background(), "local://server", &Envelope{Kind: "k"})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "local://server", sendErr.To)
	assert.Contains(t, err.Error(), "mailbox full")

	err = client.Send(context.Background(), "local://nowhere", &Envelope{Kind: "k"})
	assert.ErrorIs(t, err, ErrUnreachable)

	require.NoError(t, server.Stop())
	err = client.Send(context.Background(), "local://server", &Envelope{Kind: "k"})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, 1, network.Len())

	require.NoError(t, client.Stop())
	err = client.Send(context.Background(), "local://server", &Envelope{Kind: "k"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 0, network.Len())
}

func TestLocalTransport_CanceledContext(t *testing.T) {
	network := NewLocalNetwork()
	a := network.NewTransport()
	require.NoError(t, a.Start("", (&recorder{}).handle))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Send(ctx, a.Address(), &Envelope{Kind: "k"})
	assert.ErrorIs(t, err, context.Canceled)
}

// ============== QUIC ==============

func TestQUICTransport_RoundTrip(t *testing.T) {
	serverTLS, clientTLS, err := NewDevTLS()
	require.NoError(t, err)

	factory := QUICFactory("127.0.0.1", serverTLS, clientTLS, WithSendTimeout(5*time.Second))
	rec := &recorder{}

	server := factory()
	require.NoError(t, server.Start("", rec.handle))
	defer server.Stop()

	client := factory()
	require.NoError(t, client.Start("", (&recorder{}).handle))
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env := &Envelope{Kind: "test.echo", Dest: "echo", Seq: 7, Value: map[string]int{"n": 42}}
	require.NoError(t, client.Send(ctx, server.Address(), env))

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, "test.echo", got[0].Kind)
	assert.Equal(t, "echo", got[0].Dest)
	assert.Equal(t, uint64(7), got[0].Seq)
	assert.Nil(t, got[0].Value)

	var body map[string]int
	require.NoError(t, json.Unmarshal(got[0].Body, &body))
	assert.Equal(t, 42, body["n"])
}

func TestQUICTransport_Rejected(t *testing.T) {
	serverTLS, clientTLS, err := NewDevTLS()
	require.NoError(t, err)

	server := NewQUICTransport(serverTLS, clientTLS)
	require.NoError(t, server.Start("127.0.0.1:0", (&recorder{fail: errors.New("no such actor")}).handle))
	defer server.Stop()

	client := NewQUICTransport(serverTLS, clientTLS)
	require.NoError(t, client.Start("127.0.0.1:0", (&recorder{}).handle))
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = client.Send(ctx, server.Address(), &Envelope{Kind: "k", Dest: "ghost"})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, sendErr.Error(), "no such actor")
}
