package cache

import (
	"context"
	"net/http"
)

// Entry is a snapshot of a response captured for offline replay. Entries are
// immutable once stored; the only way to change one is to overwrite it.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Put(ctx context.Context, key string, ent Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) []string
}

// Key builds the canonical request identity for a GET: method plus URI.
func Key(method, uri string) string {
	return method + " " + uri
}
