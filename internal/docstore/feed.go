package docstore

import "sync"

// Feed delivers snapshots to one subscriber on its own goroutine. A slow subscriber only
// ever sees the latest snapshot; intermediate ones are dropped.
type Feed struct {
	onChange func(Snapshot)

	mu      sync.Mutex
	pending *Snapshot
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewFeed(onChange func(Snapshot)) *Feed {
	f := &Feed{
		onChange: onChange,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go f.run()
	return f
}

// Push queues s, replacing any snapshot not yet delivered.
func (f *Feed) Push(s Snapshot) {
	f.mu.Lock()
	f.pending = &s
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. It is safe to call more than once.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

func (f *Feed) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.signal:
		}
		f.mu.Lock()
		s := f.pending
		f.pending = nil
		f.mu.Unlock()
		if s == nil {
			continue
		}
		select {
		case <-f.done:
			return
		default:
		}
		f.onChange(*s)
	}
}
