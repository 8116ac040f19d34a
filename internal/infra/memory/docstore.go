package memory

import (
	"context"
	"sync"

	"interactive-report-service/internal/docstore"
)

// DocStore is an in-process docstore.Store. Transactions hold a single lock for their whole
// duration, which makes them trivially serializable.
type DocStore struct {
	mu    sync.Mutex
	docs  map[string]docstore.Document
	seq   int
	feeds map[string]map[int]*docstore.Feed
}

func NewDocStore() *DocStore {
	return &DocStore{
		docs:  make(map[string]docstore.Document),
		feeds: make(map[string]map[int]*docstore.Feed),
	}
}

func (s *DocStore) Get(_ context.Context, collection, id string) (docstore.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(collection, id), nil
}

func (s *DocStore) Set(ctx context.Context, collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		return tx.Set(collection, id, data, opts)
	})
}

func (s *DocStore) Subscribe(_ context.Context, collection, id string, onChange func(docstore.Snapshot)) (func(), error) {
	key := docstore.Key(collection, id)
	feed := docstore.NewFeed(onChange)

	s.mu.Lock()
	s.seq++
	subID := s.seq
	if s.feeds[key] == nil {
		s.feeds[key] = make(map[int]*docstore.Feed)
	}
	s.feeds[key][subID] = feed
	feed.Push(s.snapshotLocked(collection, id))
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if subs, ok := s.feeds[key]; ok {
			delete(subs, subID)
			if len(subs) == 0 {
				delete(s.feeds, key)
			}
		}
		s.mu.Unlock()
		feed.Close()
	}, nil
}

func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, writes: make(map[string]pendingWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, key := range tx.order {
		w := tx.writes[key]
		s.docs[key] = w.data
		s.notifyLocked(w.collection, w.id)
	}
	return nil
}

// Len reports the number of stored documents.
func (s *DocStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *DocStore) snapshotLocked(collection, id string) docstore.Snapshot {
	doc, ok := s.docs[docstore.Key(collection, id)]
	return docstore.Snapshot{Collection: collection, ID: id, Exists: ok, Data: docstore.Clone(doc)}
}

func (s *DocStore) notifyLocked(collection, id string) {
	subs := s.feeds[docstore.Key(collection, id)]
	if len(subs) == 0 {
		return
	}
	snap := s.snapshotLocked(collection, id)
	for _, feed := range subs {
		feed.Push(docstore.Snapshot{Collection: snap.Collection, ID: snap.ID, Exists: snap.Exists, Data: docstore.Clone(snap.Data)})
	}
}

type pendingWrite struct {
	collection string
	id         string
	data       docstore.Document
}

type memTx struct {
	store  *DocStore
	writes map[string]pendingWrite
	order  []string
}

func (t *memTx) Get(collection, id string) (docstore.Snapshot, error) {
	key := docstore.Key(collection, id)
	if w, ok := t.writes[key]; ok {
		return docstore.Snapshot{Collection: collection, ID: id, Exists: true, Data: docstore.Clone(w.data)}, nil
	}
	return t.store.snapshotLocked(collection, id), nil
}

func (t *memTx) Set(collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	current, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	next, err := docstore.Normalize(docstore.Apply(current.Data, current.Exists, data, opts))
	if err != nil {
		return err
	}
	key := docstore.Key(collection, id)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = pendingWrite{collection: collection, id: id, data: next}
	return nil
}
