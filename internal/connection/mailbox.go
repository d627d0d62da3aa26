package connection

import "sync"

// mailbox is an unbounded FIFO in front of a subscriber channel. Pushing
// never blocks, so the manager can deliver while holding its lock and a
// subscriber may call back into the manager from its receive loop.
type mailbox struct {
	caseID string
	out    chan Event

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newMailbox(caseID string) *mailbox {
	b := &mailbox{
		caseID: caseID,
		out:    make(chan Event),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *mailbox) accepts(ev Event) bool {
	return ev.CaseID == "" || ev.CaseID == b.caseID
}

func (b *mailbox) push(ev Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) close() {
	b.once.Do(func() { close(b.done) })
}

func (b *mailbox) run() {
	defer close(b.out)
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			select {
			case <-b.wake:
				continue
			case <-b.done:
				return
			}
		}
		ev := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- ev:
		case <-b.done:
			return
		}
	}
}
