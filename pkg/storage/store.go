// Package storage provides durable snapshot-record stores for RuneGraph.
//
// The store keeps one record per logical key in a shared namespace. Keys
// partition the namespace completely: no two keys ever observe each other's
// records. Two implementations exist:
//   - BadgerStore: persistent disk-based storage using BadgerDB
//   - MemoryStore: in-memory storage for testing
package storage

import "errors"

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// Record is one persisted snapshot, keyed by its logical key.
type Record struct {
	Key       string `json:"key"`
	Snapshot  []byte `json:"snapshot"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Usage is an estimate of storage consumption.
type Usage struct {
	UsedBytes int64 `json:"used_bytes"`
	Records   int   `json:"records"`
}

// Store is the durable storage contract: transactional get/put/delete by key
// plus a usage estimate. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(key string) (*Record, error)

	// Put writes the record for rec.Key, replacing any previous record.
	Put(rec *Record) error

	// Delete removes the record for key. Deleting a missing key is not an
	// error.
	Delete(key string) error

	// Usage estimates current storage consumption.
	Usage() (*Usage, error)

	// Close releases the store's resources.
	Close() error
}
