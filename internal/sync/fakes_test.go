package sync

import (
	"context"
	gosync "sync"

	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/chat"
	"github.com/matheus3301/casesync/internal/connection"
	"github.com/matheus3301/casesync/internal/status"
	"github.com/matheus3301/casesync/internal/transport"
)

type fakeChannel struct {
	mu      gosync.Mutex
	state   status.State
	sendErr error
	sent    []channel.Envelope
	binds   int
	unbinds int
	events  chan connection.Event
	once    gosync.Once
}

func newFakeChannel(state status.State) *fakeChannel {
	return &fakeChannel{state: state, events: make(chan connection.Event, 32)}
}

func (f *fakeChannel) Bind(ctx context.Context, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds++
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, env channel.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.state != status.Connected {
		return connection.ErrNotConnected
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeChannel) State() status.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) setState(s status.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeChannel) Subscribe(caseID string) (<-chan connection.Event, func()) {
	return f.events, func() { f.once.Do(func() { close(f.events) }) }
}

func (f *fakeChannel) Unbind() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbinds++
	return nil
}

func (f *fakeChannel) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

type fakeFallback struct {
	mu       gosync.Mutex
	pages    map[string]*transport.MessagePage
	fetchErr error
	fetches  []transport.MessageQuery
	gate     chan struct{}
	entered  chan struct{}

	sendResult *chat.Message
	sendErr    error
	sends      []transport.SendRequest

	markErr error
	marks   [][]string
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{pages: make(map[string]*transport.MessagePage)}
}

func (f *fakeFallback) FetchMessages(ctx context.Context, caseID string, q transport.MessageQuery) (*transport.MessagePage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, q)
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if p, ok := f.pages[q.BeforeID]; ok {
		return p, nil
	}
	return &transport.MessagePage{}, nil
}

func (f *fakeFallback) SendMessage(ctx context.Context, req transport.SendRequest) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeFallback) MarkRead(ctx context.Context, ids []string) (*transport.MarkReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, ids)
	if f.markErr != nil {
		return nil, f.markErr
	}
	return &transport.MarkReadResult{MarkedCount: len(ids)}, nil
}

func (f *fakeFallback) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeFallback) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}
