package connection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/status"
)

func newTestManager(t *testing.T, d *fakeDialer, heartbeat time.Duration) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	m := NewManager(d, status.NewMachine(nil), clk, zap.NewNop(), heartbeat)
	t.Cleanup(func() { _ = m.Unbind() })
	return m, clk
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func expectState(t *testing.T, ch <-chan Event, want status.State) {
	t.Helper()
	ev := next(t, ch)
	require.Equal(t, KindStatusChanged, ev.Kind, "event: %+v", ev)
	require.Equal(t, want, ev.State)
}

func expectNone(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func envelope(t *testing.T, typ string, payload any) channel.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return channel.Envelope{Type: typ, Payload: data}
}

func connect(t *testing.T, m *Manager, events <-chan Event) {
	t.Helper()
	require.NoError(t, m.Bind(context.Background(), "tok"))
	expectState(t, events, status.Connecting)
	expectState(t, events, status.Connected)
}

func TestBindConnectsAndSends(t *testing.T) {
	conn := newPipeConn()
	d := &fakeDialer{conns: []*pipeConn{conn}}
	m, _ := newTestManager(t, d, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()

	connect(t, m, events)
	assert.Equal(t, status.Connected, m.State())
	assert.Equal(t, []string{"tok"}, d.creds)

	env, err := channel.NewEnvelope(channel.TypeMarkRead, channel.MarkReadPayload{MessageIDs: []string{"m1"}})
	require.NoError(t, err)
	require.NoError(t, m.Send(context.Background(), env))
	assert.Equal(t, channel.TypeMarkRead, (<-conn.fromClient).Type)
}

func TestBindWhileConnectedIsNoop(t *testing.T) {
	d := &fakeDialer{conns: []*pipeConn{newPipeConn()}}
	m, _ := newTestManager(t, d, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()

	connect(t, m, events)
	require.NoError(t, m.Bind(context.Background(), "tok"))
	expectNone(t, events)
	assert.Equal(t, 1, d.callCount())
}

func TestSendWhenDisconnected(t *testing.T) {
	m, _ := newTestManager(t, &fakeDialer{}, -1)
	err := m.Send(context.Background(), channel.Envelope{Type: channel.TypePing})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendWriteFailure(t *testing.T) {
	conn := newPipeConn()
	conn.writeErr = errors.New("broken pipe")
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	err := m.Send(context.Background(), channel.Envelope{Type: channel.TypePing})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "send", terr.Op)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

func TestDialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m, _ := newTestManager(t, d, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()

	require.NoError(t, m.Bind(context.Background(), "tok"))
	expectState(t, events, status.Connecting)

	ev := next(t, events)
	require.Equal(t, KindError, ev.Kind)
	var terr *TransportError
	require.ErrorAs(t, ev.Err, &terr)
	assert.Equal(t, "dial", terr.Op)

	expectState(t, events, status.Error)
	assert.Equal(t, status.Error, m.State())
}

func TestRebindAfterError(t *testing.T) {
	first, second := newPipeConn(), newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{first, second}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	_ = first.Close()
	assert.Equal(t, KindError, next(t, events).Kind)
	expectState(t, events, status.Error)

	connect(t, m, events)
	assert.Equal(t, status.Connected, m.State())
}

func TestInboundRoutingByCase(t *testing.T) {
	conn := newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	c1, unsub1 := m.Subscribe("c1")
	defer unsub1()
	c2, unsub2 := m.Subscribe("c2")
	defer unsub2()

	connect(t, m, c1)
	expectState(t, c2, status.Connecting)
	expectState(t, c2, status.Connected)

	created := "2026-06-01T09:00:00Z"
	conn.toClient <- envelope(t, channel.TypeNewMessage, map[string]any{
		"id": "m1", "case_id": "c1", "sender": map[string]string{"id": "u2"}, "content": "hi", "created_at": created,
	})
	conn.toClient <- envelope(t, channel.TypeTyping, channel.TypingPayload{CaseID: "c2", UserID: "u9", IsTyping: true})

	ev := next(t, c1)
	require.Equal(t, KindMessage, ev.Kind)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "c1", ev.CaseID)

	ev = next(t, c2)
	require.Equal(t, KindTyping, ev.Kind)
	assert.Equal(t, "u9", ev.UserID)
	assert.True(t, ev.IsTyping)

	expectNone(t, c1)
	expectNone(t, c2)
}

func TestBroadcastEvents(t *testing.T) {
	conn := newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	readAt := time.Date(2026, 6, 1, 9, 5, 0, 0, time.UTC)
	conn.toClient <- envelope(t, channel.TypeReadReceipt, channel.ReadReceiptPayload{MessageIDs: []string{"m1"}, ReadAt: &readAt})
	conn.toClient <- envelope(t, channel.TypeOfflineMessages, map[string]any{
		"messages": []map[string]any{
			{"id": "m2", "case_id": "c7", "created_at": "2026-06-01T08:00:00Z"},
			{"id": "", "case_id": "c1", "created_at": "2026-06-01T08:00:00Z"},
		},
	})

	ev := next(t, events)
	require.Equal(t, KindReadReceipt, ev.Kind)
	assert.Equal(t, []string{"m1"}, ev.MessageIDs)
	require.NotNil(t, ev.ReadAt)
	assert.True(t, readAt.Equal(*ev.ReadAt))

	ev = next(t, events)
	require.Equal(t, KindOfflineBatch, ev.Kind)
	require.Len(t, ev.Messages, 1, "invalid entries are filtered")
	assert.Equal(t, "m2", ev.Messages[0].ID)
}

func TestMalformedEnvelopesDropped(t *testing.T) {
	conn := newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	conn.toClient <- channel.Envelope{Type: channel.TypeNewMessage, Payload: []byte(`{"id":"m1"}`)}
	conn.toClient <- channel.Envelope{Type: channel.TypeTyping, Payload: []byte(`not json`)}
	conn.toClient <- envelope(t, channel.TypeReadReceipt, channel.ReadReceiptPayload{})
	conn.toClient <- channel.Envelope{Type: "presence"}
	conn.toClient <- channel.Envelope{Type: channel.TypePong}

	expectNone(t, events)
	assert.Equal(t, status.Connected, m.State())
}

func TestServerErrorEnvelope(t *testing.T) {
	conn := newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	conn.toClient <- envelope(t, channel.TypeError, channel.ErrorPayload{Message: "token expired"})

	ev := next(t, events)
	require.Equal(t, KindError, ev.Kind)
	assert.Contains(t, ev.Err.Error(), "token expired")
	expectState(t, events, status.Error)
	assert.Eventually(t, conn.isClosed, 2*time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Send(context.Background(), channel.Envelope{Type: channel.TypePing}), ErrNotConnected)
}

func TestUnbind(t *testing.T) {
	conn := newPipeConn()
	m, _ := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	require.NoError(t, m.Unbind())
	expectState(t, events, status.Disconnected)
	assert.True(t, conn.isClosed())

	require.NoError(t, m.Unbind())
	expectNone(t, events)
	assert.Equal(t, status.Disconnected, m.State())
}

func TestLateDialDiscardedAfterUnbind(t *testing.T) {
	conn := newPipeConn()
	gate := make(chan struct{})
	d := &fakeDialer{conns: []*pipeConn{conn}, gate: gate}
	m, _ := newTestManager(t, d, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()

	require.NoError(t, m.Bind(context.Background(), "tok"))
	expectState(t, events, status.Connecting)
	require.NoError(t, m.Unbind())
	expectState(t, events, status.Disconnected)

	close(gate)
	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
	expectNone(t, events)
	assert.Equal(t, status.Disconnected, m.State())
}

func TestHeartbeat(t *testing.T) {
	conn := newPipeConn()
	m, clk := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, 10*time.Second)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	clk.Advance(10 * time.Second)
	assert.Equal(t, channel.TypePing, (<-conn.fromClient).Type)

	clk.Advance(10 * time.Second)
	assert.Equal(t, channel.TypePing, (<-conn.fromClient).Type)

	require.NoError(t, m.Unbind())
	assert.Zero(t, clk.Pending(), "unbind stops the heartbeat timer")
}

func TestHeartbeatFailure(t *testing.T) {
	conn := newPipeConn()
	m, clk := newTestManager(t, &fakeDialer{conns: []*pipeConn{conn}}, 10*time.Second)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	conn.writeErr = errors.New("write timeout")
	clk.Advance(10 * time.Second)

	ev := next(t, events)
	require.Equal(t, KindError, ev.Kind)
	var terr *TransportError
	require.ErrorAs(t, ev.Err, &terr)
	assert.Equal(t, "heartbeat", terr.Op)
	expectState(t, events, status.Error)
}

func TestUnsubscribeClosesStream(t *testing.T) {
	m, _ := newTestManager(t, &fakeDialer{}, -1)
	events, unsub := m.Subscribe("c1")
	unsub()
	unsub()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestSlowCloseLeavesManagerUsable(t *testing.T) {
	conn := newPipeConn()
	conn.closeGate = make(chan struct{})
	d := &fakeDialer{conns: []*pipeConn{conn}}
	m, _ := newTestManager(t, d, -1)
	events, unsub := m.Subscribe("c1")
	defer unsub()
	connect(t, m, events)

	unbound := make(chan error, 1)
	go func() { unbound <- m.Unbind() }()
	expectState(t, events, status.Disconnected)
	require.Eventually(t, conn.isClosed, 2*time.Second, time.Millisecond)

	responsive := make(chan struct{})
	go func() {
		defer close(responsive)
		_, unsubOther := m.Subscribe("c2")
		unsubOther()
		env, _ := channel.NewEnvelope(channel.TypePing, nil)
		assert.ErrorIs(t, m.Send(context.Background(), env), ErrNotConnected)
		assert.Equal(t, status.Disconnected, m.State())
	}()
	select {
	case <-responsive:
	case <-time.After(2 * time.Second):
		t.Fatal("manager blocked behind a pending close")
	}

	select {
	case <-unbound:
		t.Fatal("Unbind returned before the close finished")
	default:
	}
	close(conn.closeGate)
	require.NoError(t, <-unbound)
}
