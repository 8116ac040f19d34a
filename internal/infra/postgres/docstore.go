package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/docstore"
)

// DefaultMaxRetries bounds serializable transaction attempts.
const DefaultMaxRetries = 10

const notifyChannel = "docstore"

// SQLSTATE codes retried by RunTransaction.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// DocStore keeps documents as JSONB rows and runs transactions at serializable isolation.
// Commits send NOTIFY docstore '{collection}/{id}' and subscribers re-read the row.
type DocStore struct {
	pool       *pgxpool.Pool
	maxRetries int
	onRetry    func()
	log        logrus.FieldLogger

	mu    sync.Mutex
	seq   int
	feeds map[string]map[int]*docstore.Feed
	stop  context.CancelFunc
	done  chan struct{}
}

func NewDocStore(pool *pgxpool.Pool, maxRetries int, log logrus.FieldLogger) *DocStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DocStore{
		pool:       pool,
		maxRetries: maxRetries,
		log:        log,
		feeds:      make(map[string]map[int]*docstore.Feed),
	}
}

// OnRetry registers a callback invoked whenever a transaction is retried after a conflict.
func (s *DocStore) OnRetry(fn func()) {
	s.onRetry = fn
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func readSnapshot(ctx context.Context, q querier, collection, id string, forUpdate bool) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{Collection: collection, ID: id}
	query := `SELECT data FROM documents WHERE collection=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	err := q.QueryRow(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *DocStore) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	return readSnapshot(ctx, s.pool, collection, id, false)
}

func (s *DocStore) Set(ctx context.Context, collection, id string, data docstore.Document, opts docstore.SetOptions) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		return tx.Set(collection, id, data, opts)
	})
}

func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.attempt(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		if s.onRetry != nil {
			s.onRetry()
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", docstore.ErrAborted, s.maxRetries)
}

func (s *DocStore) attempt(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = ptx.Rollback(ctx) }()

	tx := &pgTx{ctx: ctx, tx: ptx, writes: make(map[string]pendingWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, key := range tx.order {
		w := tx.writes[key]
		if _, err := ptx.Exec(ctx, `INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, now())
			ON CONFLICT (collection, id) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`,
			w.collection, w.id, string(w.payload)); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		if _, err := ptx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, key); err != nil {
			return fmt.Errorf("notify %s: %w", key, err)
		}
	}
	return ptx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
		return true
	}
	return false
}

// Subscribe registers onChange for a document. The first subscription starts the shared
// LISTEN connection.
func (s *DocStore) Subscribe(ctx context.Context, collection, id string, onChange func(docstore.Snapshot)) (func(), error) {
	if err := s.listen(); err != nil {
		return nil, err
	}
	initial, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	key := docstore.Key(collection, id)
	feed := docstore.NewFeed(onChange)
	feed.Push(initial)

	s.mu.Lock()
	s.seq++
	subID := s.seq
	if s.feeds[key] == nil {
		s.feeds[key] = make(map[int]*docstore.Feed)
	}
	s.feeds[key][subID] = feed
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

func (s *DocStore) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := s.acquireListener(ctx)
	if err != nil {
		cancel()
		return err
	}
	s.stop = cancel
	s.done = make(chan struct{})
	go s.dispatch(ctx, conn, s.done)
	return nil
}

func (s *DocStore) acquireListener(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// reconnect re-establishes the LISTEN connection with exponential backoff. It fails only
// when ctx is cancelled.
func (s *DocStore) reconnect(ctx context.Context) (*pgxpool.Conn, error) {
	var conn *pgxpool.Conn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(func() error {
		c, err := s.acquireListener(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("retry_in", wait).Warn("docstore listener reconnect failed")
	})
	return conn, err
}

func (s *DocStore) dispatch(ctx context.Context, conn *pgxpool.Conn, done chan struct{}) {
	defer close(done)
	defer func() {
		if conn != nil {
			conn.Release()
		}
	}()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Error("docstore listener lost, reconnecting")
			conn.Release()
			conn = nil
			next, err := s.reconnect(ctx)
			if err != nil {
				return
			}
			conn = next
			// Notifications sent while disconnected are lost; re-read every watched document.
			s.resync(ctx)
			continue
		}
		collection, id, ok := strings.Cut(n.Payload, "/")
		if !ok {
			continue
		}
		s.deliver(ctx, n.Payload, collection, id)
	}
}

func (s *DocStore) feedsOf(key string) []*docstore.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.feeds[key]
	feeds := make([]*docstore.Feed, 0, len(subs))
	for _, f := range subs {
		feeds = append(feeds, f)
	}
	return feeds
}

func (s *DocStore) deliver(ctx context.Context, key, collection, id string) {
	feeds := s.feedsOf(key)
	if len(feeds) == 0 {
		return
	}
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	snap, err := s.Get(readCtx, collection, id)
	cancel()
	if err != nil {
		s.log.WithError(err).WithField("document", key).Warn("changed document not readable")
		return
	}
	for _, f := range feeds {
		f.Push(docstore.Snapshot{Collection: snap.Collection, ID: snap.ID, Exists: snap.Exists, Data: docstore.Clone(snap.Data)})
	}
}

func (s *DocStore) resync(ctx context.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.feeds))
	for key := range s.feeds {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	for _, key := range keys {
		if collection, id, ok := strings.Cut(key, "/"); ok {
			s.deliver(ctx, key, collection, id)
		}
	}
}

// Close stops the listener connection.
func (s *DocStore) Close() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

type pendingWrite struct {
	collection string
	id         string
	data       docstore.Document
	payload    []byte
}

type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	writes map[string]pendingWrite
	order  []string
}

func (t *pgTx) Get(collection, id string) (docstore.Snapshot, error) {
	key := docstore.Key(collection, id)
	if w, ok := t.writes[key]; ok {
		return docstore.Snapshot{Collection: collection, ID: id, Exists: true, Data: docstore.Clone(w.data)}, nil
	}
	return readSnapshot(t.ctx, t.tx, collection, id, true)
}

func (t *pgTx) Set(collection, id string, data docstore.Document, opts docstore.SetOptions) error {
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
	key := docstore.Key(collection, id)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = pendingWrite{collection: collection, id: id, data: normalized, payload: payload}
	return nil
}
