package broker

import (
	"log/slog"
	"sync"

	"github.com/phosh-mobile/searchd/internal/search"
)

// Event is emitted by the broker. It is one of SourceResultsChanged or
// QueryFinished.
type Event interface {
	eventName() string
}

// SourceResultsChanged carries the results of one provider for the
// current query.
type SourceResultsChanged struct {
	SourceID string
	Results  []*search.ResultMeta
}

// QueryFinished is emitted once per Query call after every provider of
// that query has completed, or immediately when nothing was searched.
type QueryFinished struct{}

func (SourceResultsChanged) eventName() string { return "source-results-changed" }
func (QueryFinished) eventName() string        { return "query-finished" }

// Listener receives broker events, one at a time and in emission order.
type Listener func(Event)

// dispatcher delivers queued events from a single goroutine.
type dispatcher struct {
	logger *slog.Logger

	mu        sync.Mutex
	queue     []Event
	listeners map[uint64]Listener
	nextID    uint64
	closing   bool

	wake chan struct{}
	done chan struct{}
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		logger:    logger,
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(l Listener) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// publish queues ev. It never blocks.
func (d *dispatcher) publish(ev Event) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closing := d.closing
				d.mu.Unlock()
				if closing {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			listeners := make([]Listener, 0, len(d.listeners))
			for _, l := range d.listeners {
				listeners = append(listeners, l)
			}
			d.mu.Unlock()

			for _, l := range listeners {
				d.deliver(l, ev)
			}
		}
	}
}

func (d *dispatcher) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("search event listener panicked", "event", ev.eventName(), "panic", r)
		}
	}()
	l(ev)
}

// close delivers what is already queued, then stops.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
