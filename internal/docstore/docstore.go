// Package docstore defines the keyed document store the voting engine runs against.
//
// Documents are JSON-shaped maps grouped in collections. Every backend supports plain
// reads and writes, merge writes, change subscriptions and atomic read-modify-write
// transactions across several documents.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collections used by the voting engine.
const (
	UserVotes    = "user_votes"
	Interactions = "interactions"
)

// ErrAborted is returned by a backend when a transaction cannot commit after its retries.
var ErrAborted = errors.New("transaction aborted")

// Document is the decoded content of one document.
type Document map[string]any

// Snapshot is the state of a document at a point in time.
type Snapshot struct {
	Collection string
	ID         string
	Exists     bool
	Data       Document
}

// SetOptions controls how a write combines with the stored document.
type SetOptions struct {
	// Merge deep-merges the written fields into the existing document instead of replacing it.
	Merge bool
}

// Store is the document store abstraction.
type Store interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	Set(ctx context.Context, collection, id string, data Document, opts SetOptions) error
	// Subscribe calls onChange with the current snapshot and then after every committed change.
	Subscribe(ctx context.Context, collection, id string, onChange func(Snapshot)) (unsubscribe func(), err error)
	// RunTransaction runs fn atomically. Writes are applied only if fn returns nil. fn may be
	// invoked more than once when the backend retries on conflict, so it must not have side
	// effects outside tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx reads and writes inside a transaction. Reads must happen before writes.
type Tx interface {
	Get(collection, id string) (Snapshot, error)
	Set(collection, id string, data Document, opts SetOptions) error
}

// VoteRecordID is the key of a user's vote on a question.
func VoteRecordID(userID, questionID string) string {
	return userID + "_" + questionID
}

// Key joins a collection and id into one backend key.
func Key(collection, id string) string {
	return collection + "/" + id
}

// Merge deep-merges src into dst and returns dst. Nested documents merge recursively;
// every other value replaces the existing one.
func Merge(dst, src Document) Document {
	if dst == nil {
		dst = Document{}
	}
	for k, v := range src {
		nested, ok := asDocument(v)
		if !ok {
			dst[k] = v
			continue
		}
		existing, ok := asDocument(dst[k])
		if !ok {
			existing = Document{}
		}
		dst[k] = Merge(Clone(existing), nested)
	}
	return dst
}

// Apply returns the document that results from writing data over current.
func Apply(current Document, exists bool, data Document, opts SetOptions) Document {
	if opts.Merge && exists {
		return Merge(Clone(current), data)
	}
	return Merge(Document{}, data)
}

// Clone deep-copies a document.
func Clone(d Document) Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		if nested, ok := asDocument(v); ok {
			out[k] = Clone(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func asDocument(v any) (Document, bool) {
	switch x := v.(type) {
	case Document:
		return x, true
	case map[string]any:
		return Document(x), true
	default:
		return nil, false
	}
}

// Encode serializes a document for byte-oriented backends.
func Encode(d Document) ([]byte, error) {
	return json.Marshal(d)
}

// Decode parses a serialized document. Numbers decode as float64.
func Decode(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// Normalize round-trips a document through JSON so in-process backends hand out the same
// shapes (float64 numbers, map[string]any) as the networked ones.
func Normalize(d Document) (Document, error) {
	data, err := Encode(d)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Int reads an integer field written by any backend.
func Int(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	default:
		return 0
	}
}

// Sub returns a nested document field.
func Sub(d Document, key string) Document {
	nested, _ := asDocument(d[key])
	return nested
}
