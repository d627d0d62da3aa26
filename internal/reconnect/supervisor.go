package reconnect

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/connection"
	"github.com/matheus3301/casesync/internal/status"
)

// Binder is the part of the connection manager the supervisor drives.
type Binder interface {
	Bind(ctx context.Context, credential string) error
	Subscribe(caseID string) (<-chan connection.Event, func())
}

// Supervisor watches channel status and re-binds after an error according
// to its Policy. An intentional unbind (disconnected) is never undone.
type Supervisor struct {
	binder     Binder
	policy     Policy
	clock      clock.Clock
	credential string
	logger     *zap.Logger

	// OnReconnect runs after the channel comes back from an error, on the
	// supervisor's goroutine. Typically used to refresh missed history.
	OnReconnect func(ctx context.Context)

	mu      sync.Mutex
	attempt int
	pending *clock.Timer
	down    bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a supervisor.
func NewSupervisor(b Binder, p Policy, clk clock.Clock, credential string, logger *zap.Logger) *Supervisor {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		binder:     b,
		policy:     p,
		clock:      clk,
		credential: credential,
		logger:     logger.Named("reconnect"),
	}
}

// Start begins watching status events.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	events, unsub := s.binder.Subscribe("")

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind == connection.KindStatusChanged {
					s.handle(ctx, ev.State)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels any pending attempt and stops watching.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.pending.Stop()
	s.pending = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Attempt returns the number of consecutive attempts since the last
// successful connection.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Supervisor) handle(ctx context.Context, state status.State) {
	s.mu.Lock()
	switch state {
	case status.Error:
		s.down = true
		delay, ok := s.policy.Next(s.attempt)
		if !ok {
			s.mu.Unlock()
			s.logger.Warn("giving up reconnecting", zap.Int("attempts", s.attempt))
			return
		}
		s.attempt++
		attempt := s.attempt
		s.pending.Stop()
		s.pending = s.clock.AfterFunc(delay, func() { s.rebind(ctx) })
		s.mu.Unlock()
		s.logger.Info("scheduling reconnect", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		return

	case status.Connected:
		s.attempt = 0
		wasDown := s.down
		s.down = false
		s.mu.Unlock()
		if wasDown && s.OnReconnect != nil {
			s.OnReconnect(ctx)
		}
		return

	case status.Disconnected:
		s.pending.Stop()
		s.pending = nil
		s.down = false
		s.attempt = 0
	}
	s.mu.Unlock()
}

func (s *Supervisor) rebind(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.binder.Bind(ctx, s.credential); err != nil {
		s.logger.Warn("reconnect bind failed", zap.Error(err))
	}
}
