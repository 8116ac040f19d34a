package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"interactive-report-service/internal/docstore"
)

// DefaultMaxRetries bounds optimistic transaction attempts.
const DefaultMaxRetries = 25

// DocStore keeps documents as JSON strings and runs transactions with WATCH/MULTI/EXEC.
// Keys are read lazily inside the transaction and every read key is watched, so a
// concurrent commit to any of them makes EXEC fail and the transaction is retried.
// Committed documents are published on a per-document channel.
//
//	GET     doc:{collection}:{id}
//	PUBLISH docstore:{collection}:{id} <json>
type DocStore struct {
	client     *redis.Client
	maxRetries int
	onRetry    func()
}

func NewDocStore(client *redis.Client, maxRetries int) *DocStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &DocStore{client: client, maxRetries: maxRetries}
}

// OnRetry registers a callback invoked whenever a transaction is retried after a conflict.
func (s *DocStore) OnRetry(fn func()) {
	s.onRetry = fn
}

func (s *DocStore) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	return readSnapshot(ctx, s.client, collection, id)
}

func (s *DocStore) Set(ctx context.Context, collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		return tx.Set(collection, id, data, opts)
	})
}

func (s *DocStore) Subscribe(ctx context.Context, collection, id string, onChange func(docstore.Snapshot)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(collection, id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s/%s: %w", collection, id, err)
	}

	initial, err := s.Get(ctx, collection, id)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	feed := docstore.NewFeed(onChange)
	feed.Push(initial)

	messages := pubsub.Channel()
	go func() {
		for msg := range messages {
			doc, err := docstore.Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			feed.Push(docstore.Snapshot{Collection: collection, ID: id, Exists: true, Data: doc})
		}
	}()

	return func() {
		_ = pubsub.Close()
		feed.Close()
	}, nil
}

func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, store: s, rtx: rtx, writes: make(map[string]pendingWrite)}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if len(tx.order) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, key := range tx.order {
					w := tx.writes[key]
					pipe.Set(ctx, s.key(w.collection, w.id), w.payload, 0)
					pipe.Publish(ctx, s.channel(w.collection, w.id), w.payload)
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			if s.onRetry != nil {
				s.onRetry()
			}
			continue
		}
		return err
	}
	return fmt.Errorf("%w: gave up after %d attempts", docstore.ErrAborted, s.maxRetries)
}

func (s *DocStore) key(collection, id string) string {
	return "doc:" + collection + ":" + id
}

func (s *DocStore) channel(collection, id string) string {
	return "docstore:" + collection + ":" + id
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readSnapshot(ctx context.Context, c getter, collection, id string) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{Collection: collection, ID: id}
	raw, err := c.Get(ctx, "doc:"+collection+":"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	doc, err := docstore.Decode(raw)
	if err != nil {
		return snap, err
	}
	snap.Exists = true
	snap.Data = doc
	return snap, nil
}

type pendingWrite struct {
	collection string
	id         string
	data       docstore.Document
	payload    []byte
}

type redisTx struct {
	ctx    context.Context
	store  *DocStore
	rtx    *redis.Tx
	writes map[string]pendingWrite
	order  []string
}

func (t *redisTx) Get(collection, id string) (docstore.Snapshot, error) {
	key := t.store.key(collection, id)
	if w, ok := t.writes[key]; ok {
		return docstore.Snapshot{Collection: collection, ID: id, Exists: true, Data: docstore.Clone(w.data)}, nil
	}
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("watch %s: %w", key, err)
	}
	return readSnapshot(t.ctx, t.rtx, collection, id)
}

func (t *redisTx) Set(collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	current, err := t.Get(collection, id)
	if err != nil {
		return err
	}
	next := docstore.Apply(current.Data, current.Exists, data, opts)
	payload, err := docstore.Encode(next)
	if err != nil {
		return err
	}
	normalized, err := docstore.Decode(payload)
	if err != nil {
		return err
	}
	key := t.store.key(collection, id)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = pendingWrite{collection: collection, id: id, data: normalized, payload: payload}
	return nil
}
