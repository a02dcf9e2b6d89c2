// Package runegraph provides the main API for embedded RuneGraph usage.
//
// RuneGraph wraps a single stateful graph query engine with durable snapshot
// persistence and an optional background-worker execution mode:
//
//   - The engine module is bootstrapped exactly once per process, even under
//     racing concurrent opens.
//   - Mutating queries debounce a snapshot write to durable storage, and the
//     snapshot is restored transparently on the next open of the same key.
//   - In remote mode all engine execution moves to a worker behind a
//     request/response protocol with the same external call shape.
//   - A strict open/closed lifecycle guarantees no operation ever reaches a
//     released engine.
//
// Example:
//
//	db, err := runegraph.Open(ctx, &runegraph.Options{
//		DataDir:    "./data",
//		PersistKey: "main",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close(context.Background())
//
//	_, err = db.Execute(ctx, "CREATE (n:Fact {text: 'water is wet'})")
//	rows, err := db.Execute(ctx, "MATCH (n:Fact) RETURN n")
//
// Two databases opened with different persist keys never observe each
// other's data. Two databases opened concurrently with the SAME key have no
// mutual exclusion: the last writer wins, silently. Use one writer per key.
package runegraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/persist"
	"github.com/orneryd/runegraph/pkg/query"
	"github.com/orneryd/runegraph/pkg/storage"
	"github.com/orneryd/runegraph/pkg/transport"
)

// Errors returned by DB operations.
var (
	// ErrClosed is returned by every operation on a closed database.
	ErrClosed = errors.New("database is closed")

	// ErrBootstrap wraps engine module bootstrap failures; fatal to the
	// in-progress Open.
	ErrBootstrap = errors.New("engine bootstrap failed")

	// ErrNoPersistence is returned by StorageStats when the database was
	// opened without a persist key.
	ErrNoPersistence = errors.New("persistence not configured")
)

// lifecycleState is the one-way database lifecycle.
type lifecycleState int

const (
	stateConstructing lifecycleState = iota
	stateOpen
	stateClosed
)

// Options configures Open.
type Options struct {
	// Factory constructs engine instances. Default: engine.MemoryFactory.
	Factory engine.Factory

	// Store is the durable storage backend for snapshots. Optional; when
	// nil and PersistKey is set, a BadgerStore is opened at DataDir and
	// owned (closed) by the database.
	Store storage.Store

	// DataDir is where the owned BadgerStore lives when Store is nil.
	DataDir string

	// PersistKey is the logical key this database persists under. Empty
	// disables persistence.
	PersistKey string

	// DebounceInterval overrides the snapshot write-coalescing window.
	// Default: persist.DefaultDebounceInterval.
	DebounceInterval time.Duration

	// OnPersistError receives persistence failures, which never fail the
	// query that triggered the save. Default logs them.
	OnPersistError persist.ErrorHandler
}

// backend is the mode variant selected once at creation time: direct
// (in-process engine) or remote (worker transport). Exactly one exists per
// database for its whole lifetime.
type backend interface {
	execute(ctx context.Context, q string) ([]engine.Row, error)
	executeRaw(ctx context.Context, q string) (*engine.RawResult, error)
	executeWithLanguage(ctx context.Context, q, language string) ([]engine.Row, error)
	nodeCount(ctx context.Context) (int, error)
	edgeCount(ctx context.Context) (int, error)
	schema(ctx context.Context) (map[string]any, error)
	export(ctx context.Context) (*engine.Snapshot, error)
	importSnapshot(ctx context.Context, data []byte) error
	clear(ctx context.Context) error
	storageStats(ctx context.Context) (*storage.Usage, error)
	close(ctx context.Context) error
}

// DB is one database instance: the public façade over an engine handle (or a
// worker transport) plus optional persistence.
//
// All methods are safe for concurrent use. After Close, every operation
// fails with ErrClosed.
type DB struct {
	mu      sync.RWMutex
	state   lifecycleState
	backend backend
}

// Open creates a database running the engine in-process (direct mode).
//
// The engine module is bootstrapped first (once per process). If a persist
// key is configured and a snapshot exists for it, the engine is restored
// from that snapshot; otherwise a fresh engine is constructed.
func Open(ctx context.Context, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	factory := opts.Factory
	if factory == nil {
		factory = engine.MemoryFactory{}
	}

	if err := EnsureReady(ctx); err != nil {
		return nil, err
	}

	db := &DB{state: stateConstructing}

	store := opts.Store
	ownStore := false
	if store == nil && opts.PersistKey != "" {
		if opts.DataDir == "" {
			return nil, fmt.Errorf("open database: persist key %q requires a Store or DataDir", opts.PersistKey)
		}
		s, err := storage.NewBadgerStore(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		store = s
		ownStore = true
	}

	var pm *persist.Manager
	var snap *engine.Snapshot
	if store != nil && opts.PersistKey != "" {
		pm = persist.NewManager(store, opts.PersistKey, &persist.Options{
			DebounceInterval: opts.DebounceInterval,
			OnError:          opts.OnPersistError,
		})
		loaded, err := pm.Load()
		if err != nil {
			if ownStore {
				store.Close()
			}
			return nil, fmt.Errorf("open database: %w", err)
		}
		snap = loaded
	}

	var eng engine.Engine
	var err error
	if snap != nil {
		eng, err = factory.FromSnapshot(snap.Data)
	} else {
		eng, err = factory.Open()
	}
	if err != nil {
		if ownStore {
			store.Close()
		}
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.backend = &directBackend{
		factory:  factory,
		handle:   engine.NewHandle(eng),
		pm:       pm,
		store:    store,
		ownStore: ownStore,
	}
	db.state = stateOpen
	return db, nil
}

// OpenRemote creates a database whose engine runs behind the given worker
// (remote mode). The worker performs its own bootstrap and persistence; the
// handshake runs as an ordinary init request.
func OpenRemote(ctx context.Context, worker transport.Worker) (*DB, error) {
	db := &DB{state: stateConstructing}

	proxy := transport.NewProxy()
	if err := proxy.Init(ctx, worker); err != nil {
		return nil, fmt.Errorf("open remote database: %w", err)
	}

	db.backend = &remoteBackend{proxy: proxy}
	db.state = stateOpen
	return db, nil
}

// open returns the backend while holding the read lock, or ErrClosed.
func (db *DB) open() (backend, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.state != stateOpen {
		return nil, ErrClosed
	}
	return db.backend, nil
}

// Execute runs a query and returns its rows. Mutating queries schedule a
// debounced persistence write when persistence is configured.
func (db *DB) Execute(ctx context.Context, q string) ([]engine.Row, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.execute(ctx, q)
}

// ExecuteRaw runs a query and returns the tabular result with column names
// and timing. Persistence hooks apply as in Execute.
func (db *DB) ExecuteRaw(ctx context.Context, q string) (*engine.RawResult, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.executeRaw(ctx, q)
}

// ExecuteWithLanguage runs a query written in the named language. Unknown
// language tokens fail with engine.ErrUnsupportedLanguage.
func (db *DB) ExecuteWithLanguage(ctx context.Context, q, language string) ([]engine.Row, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.executeWithLanguage(ctx, q, language)
}

// NodeCount returns the number of nodes in the graph.
func (db *DB) NodeCount(ctx context.Context) (int, error) {
	b, err := db.open()
	if err != nil {
		return 0, err
	}
	return b.nodeCount(ctx)
}

// EdgeCount returns the number of edges in the graph.
func (db *DB) EdgeCount(ctx context.Context) (int, error) {
	b, err := db.open()
	if err != nil {
		return 0, err
	}
	return b.edgeCount(ctx)
}

// Schema describes labels and relationship types currently stored.
func (db *DB) Schema(ctx context.Context) (map[string]any, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.schema(ctx)
}

// Export returns a versioned full-state snapshot of the engine.
func (db *DB) Export(ctx context.Context) (*engine.Snapshot, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.export(ctx)
}

// Import replaces the engine state with the given snapshot bytes and
// schedules a persistence write when persistence is configured.
func (db *DB) Import(ctx context.Context, data []byte) error {
	b, err := db.open()
	if err != nil {
		return err
	}
	return b.importSnapshot(ctx, data)
}

// Clear releases the current engine, constructs a fresh empty one, and
// deletes the persisted record for the key (not merely the dirty flag).
func (db *DB) Clear(ctx context.Context) error {
	b, err := db.open()
	if err != nil {
		return err
	}
	return b.clear(ctx)
}

// StorageStats reports the durable store's usage estimate.
func (db *DB) StorageStats(ctx context.Context) (*storage.Usage, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	return b.storageStats(ctx)
}

// Stats summarizes the database.
type Stats struct {
	NodeCount int            `json:"node_count"`
	EdgeCount int            `json:"edge_count"`
	Storage   *storage.Usage `json:"storage,omitempty"`
}

// Stats returns node/edge counts plus storage usage when persistence is
// configured.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	b, err := db.open()
	if err != nil {
		return nil, err
	}
	nodes, err := b.nodeCount(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := b.edgeCount(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{NodeCount: nodes, EdgeCount: edges}
	if usage, err := b.storageStats(ctx); err == nil {
		stats.Storage = usage
	}
	return stats, nil
}

// Close flushes pending persistence, releases the engine (or terminates the
// worker transport), and transitions the database to its terminal closed
// state. Safe to call multiple times; calls after the first are no-ops.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.state == stateClosed {
		db.mu.Unlock()
		return nil
	}
	db.state = stateClosed
	b := db.backend
	db.backend = nil
	db.mu.Unlock()

	return b.close(ctx)
}

// classifyAndSchedule runs the mutation classifier and, for mutating
// queries, schedules a snapshot write bound to the current engine handle.
func classifyAndSchedule(q string, pm *persist.Manager, handle *engine.Handle) {
	if pm == nil || !query.IsMutating(q) {
		return
	}
	pm.ScheduleSave(func() (*engine.Snapshot, error) {
		return handle.ExportSnapshot()
	})
}
