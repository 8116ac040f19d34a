package app

import (
	"sync"

	"interactive-report-service/internal/domain"
)

// RoomRepository abstracts how question rooms are stored (in-memory, Redis, etc).
type RoomRepository interface {
	// Join adds a session to the room of a question, creating the room if needed.
	Join(questionID, sessionID string) *Room
	Get(questionID string) (*Room, bool)
	// Leave removes a session and closes the room once it is empty.
	Leave(questionID, sessionID string)
}

// Room shares one results subscription of a question among the sessions showing it.
type Room struct {
	id string

	mu          sync.Mutex
	members     map[string]int
	subscribers map[chan domain.Aggregate]struct{}
	latest      *domain.Aggregate
	stop        func()
	watching    bool
	closed      bool
}

func NewRoom(questionID string) *Room {
	return &Room{
		id:          questionID,
		members:     make(map[string]int),
		subscribers: make(map[chan domain.Aggregate]struct{}),
	}
}

func (r *Room) ID() string { return r.id }

// Add registers a session and returns the member count. A session may join several
// times; it stays a member until it left as often.
func (r *Room) Add(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[sessionID]++
	return len(r.members)
}

// Remove unregisters one join of a session and returns the member count.
func (r *Room) Remove(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[sessionID] <= 1 {
		delete(r.members, sessionID)
	} else {
		r.members[sessionID]--
	}
	return len(r.members)
}

func (r *Room) Members() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// IsEmpty reports whether the room has no members.
func (r *Room) IsEmpty() bool {
	return r.Members() == 0
}

// ensureWatch starts the shared subscription once.
func (r *Room) ensureWatch(start func(publish func(domain.Aggregate)) (func(), error)) error {
	r.mu.Lock()
	if r.watching || r.closed {
		r.mu.Unlock()
		return nil
	}
	r.watching = true
	r.mu.Unlock()

	stop, err := start(r.publish)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.watching = false
		return err
	}
	if r.closed {
		stop()
		return nil
	}
	r.stop = stop
	return nil
}

func (r *Room) subscribe() (<-chan domain.Aggregate, func()) {
	ch := make(chan domain.Aggregate, 8)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	if r.latest != nil {
		ch <- *r.latest
	}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Room) publish(agg domain.Aggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.latest = &agg
	r.broadcastLocked(agg)
}

func (r *Room) broadcastLocked(agg domain.Aggregate) {
	for ch := range r.subscribers {
		select {
		case ch <- agg:
		default:
			// slow subscriber: drop its oldest pending update
			select {
			case <-ch:
			default:
			}
			ch <- agg
		}
	}
}

// Close stops the subscription and closes all subscriber channels.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stop := r.stop
	r.stop = nil
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}
