// Package engine defines the contract RuneGraph requires from an embedded
// graph query engine, plus the ownership wrapper (Handle) the rest of the
// module goes through.
//
// The engine is treated as opaque: this package never inspects snapshot
// bytes, never parses queries beyond what an implementation chooses to do,
// and owns exactly one live engine instance per Handle.
package engine

import (
	"errors"
	"time"
)

// Errors returned by engine handles and implementations.
var (
	// ErrReleased is returned by every Handle method (except Release)
	// invoked after the handle has been released.
	ErrReleased = errors.New("engine handle already released")

	// ErrUnsupportedLanguage is returned by ExecuteWithLanguage for an
	// unknown language token.
	ErrUnsupportedLanguage = errors.New("unsupported query language")
)

// SnapshotVersion is the current snapshot artifact format version.
const SnapshotVersion = 1

// Row is a single result row.
type Row []any

// RawResult is the tabular result of ExecuteRaw.
type RawResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	TimeMs  float64  `json:"timeMs,omitempty"`
}

// Snapshot is a versioned, opaque, full-state export of one engine instance.
// Data is produced and consumed only by the engine; this layer never looks
// inside it.
type Snapshot struct {
	Version   int    `json:"version"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// NewSnapshot wraps engine-produced bytes in the versioned artifact.
func NewSnapshot(data []byte) *Snapshot {
	return &Snapshot{
		Version:   SnapshotVersion,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Engine is the contract required from the embedded query engine.
//
// Implementations need not be safe for concurrent use; the Handle and the
// orchestrator serialize access.
type Engine interface {
	// Execute runs a query and returns its rows.
	Execute(query string) ([]Row, error)

	// ExecuteRaw runs a query and returns the tabular result with column
	// names and timing.
	ExecuteRaw(query string) (*RawResult, error)

	// ExecuteWithLanguage runs a query written in the named language.
	// Unknown language tokens fail with ErrUnsupportedLanguage.
	ExecuteWithLanguage(query, language string) ([]Row, error)

	// NodeCount returns the number of nodes in the graph.
	NodeCount() int

	// EdgeCount returns the number of edges in the graph.
	EdgeCount() int

	// Schema describes labels and relationship types currently stored.
	Schema() (map[string]any, error)

	// ExportSnapshot serializes the full engine state to opaque bytes.
	ExportSnapshot() ([]byte, error)

	// Release frees the engine's resources. Implementations may assume it
	// is called at most once; Handle guarantees that.
	Release()

	// Version reports the engine implementation version string.
	Version() string
}

// Factory constructs engine instances, either empty or from snapshot bytes.
// The orchestrator uses it on open, on import, and on Clear.
type Factory interface {
	// Open constructs a fresh, empty engine.
	Open() (Engine, error)

	// FromSnapshot constructs an engine restored from snapshot bytes
	// previously produced by ExportSnapshot.
	FromSnapshot(data []byte) (Engine, error)
}
