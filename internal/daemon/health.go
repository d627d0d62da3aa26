package daemon

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/casesync/internal/api"
	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/status"
)

// Health mirrors the channel state into the standard gRPC health service:
// SERVING while connected, NOT_SERVING otherwise.
type Health struct {
	server  *health.Server
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealth creates a health reporter.
func NewHealth(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Health {
	return &Health{
		server:  health.NewServer(),
		bus:     b,
		machine: machine,
		logger:  logger.Named("health"),
	}
}

// Server returns the gRPC health server.
func (h *Health) Server() *health.Server { return h.server }

// Start publishes the current state and follows status changes.
func (h *Health) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe(bus.KindStatusChanged, "", 16)
	h.set(h.machine.Current())

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					h.set(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops following status and marks every service NOT_SERVING.
func (h *Health) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.server.Shutdown()
}

func (h *Health) set(state status.State) {
	s := servingStatus(state)
	h.server.SetServingStatus("", s)
	h.server.SetServingStatus(api.ServiceName, s)
	h.logger.Debug("health updated", zap.String("state", string(state)), zap.String("status", s.String()))
}

func servingStatus(state status.State) healthpb.HealthCheckResponse_ServingStatus {
	if state == status.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
