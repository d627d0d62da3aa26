package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/casesync/internal/channel"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is an in-memory channel.Conn. The test plays the server through
// toClient and fromClient.
type pipeConn struct {
	toClient   chan channel.Envelope
	fromClient chan channel.Envelope
	closed     chan struct{}
	once       sync.Once
	writeErr   error

	// closeGate, when set, makes Close wait for it like a slow close
	// handshake.
	closeGate chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toClient:   make(chan channel.Envelope, 16),
		fromClient: make(chan channel.Envelope, 16),
		closed:     make(chan struct{}),
	}
}

func (p *pipeConn) Read(ctx context.Context) (channel.Envelope, error) {
	select {
	case env := <-p.toClient:
		return env, nil
	case <-p.closed:
		return channel.Envelope{}, errPipeClosed
	case <-ctx.Done():
		return channel.Envelope{}, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, env channel.Envelope) error {
	if p.writeErr != nil {
		return p.writeErr
	}
	select {
	case p.fromClient <- env:
		return nil
	case <-p.closed:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	if p.closeGate != nil {
		<-p.closeGate
	}
	return nil
}

func (p *pipeConn) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued connections. When gate is set, Dial blocks
// until it is closed.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*pipeConn
	err   error
	gate  chan struct{}
	calls int
	creds []string
}

func (d *fakeDialer) Dial(ctx context.Context, credential string) (channel.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.creds = append(d.creds, credential)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
