// Package cachestore provides the namespaced request→response store backing
// the offline shell cache. A namespace holds one cache version's worth of
// entries; the versioned lifecycle (create current, sweep stale) lives in
// the shell package.
package cachestore

import (
	"net/http"
	"strings"
)

// Entry is an immutable response snapshot. Overwritten only by a later Put
// for the same identity (last write wins).
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
}

// Identity derives the cache key for a request: method plus the full URL
// including scheme, host, path and query.
func Identity(method, url string) string {
	return strings.ToUpper(method) + " " + url
}

// Namespace is a named partition of the store.
type Namespace interface {
	Name() string

	// Match looks up an entry by request identity.
	Match(identity string) (Entry, bool)

	// Put stores an entry under the given identity, replacing any
	// previous snapshot.
	Put(identity string, ent Entry) error

	Delete(identity string) error

	// Keys returns the identities currently stored in this namespace.
	Keys() ([]string, error)
}

// Store is a collection of namespaces. Implementations are safe for
// concurrent use; access to a single namespace is internally serialized
// by the backing engine, but cross-namespace operations are not
// transactional as a unit.
type Store interface {
	// Open returns the namespace with the given name, creating it if absent.
	Open(name string) (Namespace, error)

	// Namespaces enumerates all namespace names present in the store.
	Namespaces() ([]string, error)

	// Drop removes a namespace and all of its entries. Returns whether the
	// namespace existed.
	Drop(name string) (bool, error)

	Close() error
}
