// Package connection owns the persistent channel: its lifecycle state,
// inbound event normalization, and per-conversation fan-out.
package connection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/status"
)

// DefaultHeartbeat is the ping interval used while connected.
const DefaultHeartbeat = 25 * time.Second

// Manager drives one channel connection through
// disconnected → connecting → connected → error → disconnected.
// It never reconnects on its own; callers re-invoke Bind after observing
// an error.
type Manager struct {
	dialer    channel.Dialer
	machine   *status.Machine
	clock     clock.Clock
	logger    *zap.Logger
	heartbeat time.Duration

	mu     sync.Mutex
	gen    uint64
	conn   channel.Conn
	cancel context.CancelFunc
	pinger *clock.Timer
	subs   map[int]*mailbox
	nextID int
}

// NewManager creates a manager. A zero heartbeat uses DefaultHeartbeat; a
// negative one disables pings.
func NewManager(dialer channel.Dialer, machine *status.Machine, clk clock.Clock, logger *zap.Logger, heartbeat time.Duration) *Manager {
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Manager{
		dialer:    dialer,
		machine:   machine,
		clock:     clk,
		logger:    logger.Named("connection"),
		heartbeat: heartbeat,
		subs:      make(map[int]*mailbox),
	}
}

// State returns the current channel state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Subscribe returns the event stream for caseID. Events not scoped to a
// conversation are delivered to every subscriber. The returned function
// unsubscribes and closes the stream.
func (m *Manager) Subscribe(caseID string) (<-chan Event, func()) {
	b := newMailbox(caseID)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = b
	m.mu.Unlock()

	return b.out, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		b.close()
	}
}

// Bind starts connecting with credential and returns without waiting for
// the dial to finish. It is a no-op while connecting or connected.
func (m *Manager) Bind(ctx context.Context, credential string) error {
	m.mu.Lock()
	switch m.machine.Current() {
	case status.Connecting, status.Connected:
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	stale := m.detachLocked()

	if err := m.transitionLocked(status.Connecting, "bind"); err != nil {
		m.mu.Unlock()
		_ = closeConn(stale)
		return err
	}
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	_ = closeConn(stale)
	go m.dial(connCtx, gen, credential)
	return nil
}

// Send writes env to the channel. Returns ErrNotConnected unless the
// channel is open, and a *TransportError if the write fails.
func (m *Manager) Send(ctx context.Context, env channel.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	state := m.machine.Current()
	m.mu.Unlock()

	if state != status.Connected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, env); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Unbind closes the channel, stops its timers, and moves to disconnected.
// Dial results that arrive afterwards are discarded. Safe to call
// repeatedly.
func (m *Manager) Unbind() error {
	m.mu.Lock()
	m.gen++
	conn := m.detachLocked()
	if m.machine.Current() != status.Disconnected {
		_ = m.transitionLocked(status.Disconnected, "unbind")
	}
	m.mu.Unlock()

	return closeConn(conn)
}

func (m *Manager) dial(ctx context.Context, gen uint64, credential string) {
	conn, err := m.dialer.Dial(ctx, credential)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.logger.Debug("discarding stale dial result")
		_ = closeConn(conn)
		return
	}
	if err != nil {
		stale := m.failLocked(&TransportError{Op: "dial", Err: err})
		m.mu.Unlock()
		_ = closeConn(stale)
		return
	}

	m.conn = conn
	_ = m.transitionLocked(status.Connected, "open")
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()

	go m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn channel.Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			var stale channel.Conn
			m.mu.Lock()
			if gen == m.gen {
				stale = m.failLocked(&TransportError{Op: "read", Err: err})
			}
			m.mu.Unlock()
			_ = closeConn(stale)
			return
		}

		ev, ok := normalize(env, m.logger)
		if !ok {
			continue
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if ev.Kind == KindError {
			stale := m.failLocked(ev.Err.(*TransportError))
			m.mu.Unlock()
			_ = closeConn(stale)
			return
		}
		m.deliverLocked(ev)
		m.mu.Unlock()
	}
}

func (m *Manager) armHeartbeatLocked(gen uint64) {
	if m.heartbeat <= 0 {
		return
	}
	m.pinger = m.clock.AfterFunc(m.heartbeat, func() { m.ping(gen) })
}

func (m *Manager) ping(gen uint64) {
	m.mu.Lock()
	conn := m.conn
	if gen != m.gen || conn == nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	env, err := channel.NewEnvelope(channel.TypePing, nil)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.heartbeat)
		err = conn.Write(ctx, env)
		cancel()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if err != nil {
		stale := m.failLocked(&TransportError{Op: "heartbeat", Err: err})
		m.mu.Unlock()
		_ = closeConn(stale)
		return
	}
	m.armHeartbeatLocked(gen)
	m.mu.Unlock()
}

// failLocked detaches the connection and reports err followed by the
// transition to error. The caller closes the returned conn after unlocking.
func (m *Manager) failLocked(err *TransportError) channel.Conn {
	m.gen++
	conn := m.detachLocked()
	m.logger.Warn("channel failure", zap.String("op", err.Op), zap.Error(err))
	m.deliverLocked(Event{Kind: KindError, Err: err})
	_ = m.transitionLocked(status.Error, err.Error())
	return conn
}

// detachLocked stops the heartbeat, cancels the connection context and
// hands back the open conn, if any. Closing it may wait on the peer's close
// handshake, so it happens outside m.mu.
func (m *Manager) detachLocked() channel.Conn {
	if m.pinger != nil {
		m.pinger.Stop()
		m.pinger = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	return conn
}

func closeConn(conn channel.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (m *Manager) transitionLocked(to status.State, reason string) error {
	change, err := m.machine.Transition(to, reason)
	if err != nil {
		m.logger.Debug("transition rejected", zap.Error(err))
		return err
	}
	m.logger.Info("channel state changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("reason", reason))
	m.deliverLocked(Event{Kind: KindStatusChanged, State: change.To, Reason: reason})
	return nil
}

func (m *Manager) deliverLocked(ev Event) {
	for _, b := range m.subs {
		if b.accepts(ev) {
			b.push(ev)
		}
	}
}
