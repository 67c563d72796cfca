package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("store: document not found")

// CounterStore is the distributed atomic-counter primitive used by rate
// limiting. IncrementWithExpiry must be atomic across concurrent callers
// sharing a key; the TTL is set when the increment creates the key and
// left untouched afterwards.
type CounterStore interface {
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Document is one stored record. Indexed holds the equality-filterable
// fields, At the timestamp used for range queries. Body is canonical JSON.
type Document struct {
	ID      string            `json:"id"`
	Indexed map[string]string `json:"indexed,omitempty"`
	At      time.Time         `json:"at"`
	Body    []byte            `json:"body"`
}

// Query selects documents by equality filters on indexed fields and an
// optional closed timestamp range. Results are ordered by At descending.
type Query struct {
	Filters map[string]string
	From    time.Time
	To      time.Time
	Limit   int
}

// DocumentStore is the append-and-query primitive backing the audit trail,
// fraud event log, rotation keys, and incidents. Put is an upsert.
type DocumentStore interface {
	Put(ctx context.Context, collection string, doc Document) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Delete removes a document. Deleting a missing document is not an
	// error; the operation is idempotent.
	Delete(ctx context.Context, collection, id string) error

	// Collections lists collection names with the given prefix, used to
	// discover partitions when a query's date range is open ended.
	Collections(ctx context.Context, prefix string) ([]string, error)
}

// Matches reports whether the document satisfies the query's filters and
// time range. Shared by store implementations.
func (q Query) Matches(doc Document) bool {
	for k, v := range q.Filters {
		if doc.Indexed[k] != v {
			return false
		}
	}
	if !q.From.IsZero() && doc.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && doc.At.After(q.To) {
		return false
	}
	return true
}
