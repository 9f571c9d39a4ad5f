// internal/events/bus.go
package events

import (
	"sync"
)

// Handler receives events from a Bus.
type Handler func(Event)

// subscriber owns an unbounded mailbox drained by its own goroutine, so a
// slow handler never blocks the publisher and sees events in publish order.
type subscriber struct {
	handler Handler
	kinds   map[Kind]struct{}

	mu      sync.Mutex
	queue   []Event
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func (s *subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop ends delivery. With drain set, events already queued are still handed
// to the handler before the goroutine exits.
func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if !drain {
		s.queue = nil
	}
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
		}

		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		stopped := s.stopped
		s.mu.Unlock()

		for _, ev := range batch {
			s.handler(ev)
		}
		if stopped {
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

// Bus is a typed publish/subscribe surface. Publish never blocks on
// subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers handler for the given kinds, or for every kind when none
// are given. The returned function unsubscribes; events not yet delivered to
// the handler are discarded.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) (unsubscribe func()) {
	s := &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.stop(false)
		})
	}
}

// Publish queues ev for every subscriber interested in its kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.wants(ev.Kind()) {
			s.push(ev)
		}
	}
}

// Close stops accepting events. Subscribers still receive what was published
// before Close; it does not wait for them.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}
}
