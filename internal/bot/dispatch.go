package bot

import (
	"context"
	"sync"

	"github.com/zulandar/breakdown/internal/chat"
)

// defaultQueueSize is the per-user event buffer of a Dispatcher.
const defaultQueueSize = 64

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, ev chat.InboundEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev chat.InboundEvent)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev chat.InboundEvent) { f(ctx, ev) }

// Dispatcher fans inbound events out to one worker goroutine per user.
// Events from the same user are handled in arrival order; different users
// are handled concurrently. A user's worker and queue live until Close, so
// the number of goroutines equals the number of distinct users seen, which
// the allow list bounds to the plant's staff.
type Dispatcher struct {
	handler   Handler
	queueSize int

	mu     sync.Mutex
	queues map[string]chan chat.InboundEvent
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. queueSize <= 0 selects the default.
func NewDispatcher(handler Handler, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		handler:   handler,
		queueSize: queueSize,
		queues:    make(map[string]chan chat.InboundEvent),
	}
}

// Dispatch queues ev for its user's worker, starting the worker on first
// use. It blocks while that user's queue is full and drops the event once
// the dispatcher is closed or ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.InboundEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q, ok := d.queues[ev.UserID]
	if !ok {
		q = make(chan chat.InboundEvent, d.queueSize)
		d.queues[ev.UserID] = q
		d.wg.Add(1)
		go d.work(ctx, q)
	}
	d.mu.Unlock()

	select {
	case q <- ev:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) work(ctx context.Context, q <-chan chat.InboundEvent) {
	defer d.wg.Done()
	for ev := range q {
		d.handler.Handle(ctx, ev)
	}
}

// Close stops accepting events and waits until every queued event has been
// handled. Dispatch must not be running concurrently with Close.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Workers returns the number of per-user workers started so far.
func (d *Dispatcher) Workers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
