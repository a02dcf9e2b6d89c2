// Package persist implements per-key debounced snapshot persistence.
//
// A Manager is bound to exactly one logical key in a Store. Mutating
// operations call ScheduleSave, which coalesces any number of triggers inside
// the debounce window into a single write reflecting the latest engine state.
// Flush forces a pending write out synchronously (used on shutdown), and
// Clear deletes the persisted record entirely.
//
// Isolation between databases is by key equality only. Two managers opened
// concurrently on the same key have no mutual exclusion; the last write wins.
package persist

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/storage"
)

// DefaultDebounceInterval is the write-coalescing window used when Options
// does not override it.
const DefaultDebounceInterval = time.Second

// state is the manager's save state machine:
//
//	idle --ScheduleSave--> armed --timer fires, dirty--> saving --> idle
//	armed --ScheduleSave--> armed (timer reset, no duplicate write)
//	any --Flush--> saving --> idle
//	any --Clear--> idle (timer canceled, record deleted)
type state int

const (
	stateIdle state = iota
	stateArmed
	stateSaving
)

// SnapshotFunc produces the current engine snapshot at write time. It runs
// detached from the operation that scheduled the save.
type SnapshotFunc func() (*engine.Snapshot, error)

// ErrorHandler receives persistence errors. Saves execute detached from the
// operation that triggered them, so errors are reported here instead of
// failing that operation.
type ErrorHandler func(error)

// Options configures a Manager.
type Options struct {
	// DebounceInterval is the write-coalescing window.
	// Default: DefaultDebounceInterval.
	DebounceInterval time.Duration

	// OnError receives storage write failures. Default logs them.
	OnError ErrorHandler
}

// Manager debounces and serializes snapshot writes for one logical key.
// Writes for the key are never concurrent with each other: the timer write
// and a Flush write are serialized, and Flush cancels the timer before
// acting.
type Manager struct {
	store    storage.Store
	key      string
	interval time.Duration
	onError  ErrorHandler

	mu       sync.Mutex
	st       state
	dirty    bool
	timer    *time.Timer
	snapshot SnapshotFunc

	// saved signals (under mu) that a save left the Saving state, so
	// Flush can wait out a timer write already in flight.
	saved *sync.Cond

	// writeMu serializes the actual store writes.
	writeMu sync.Mutex
}

// NewManager binds a manager to one logical key in store.
func NewManager(store storage.Store, key string, opts *Options) *Manager {
	m := &Manager{
		store:    store,
		key:      key,
		interval: DefaultDebounceInterval,
		onError: func(err error) {
			log.Printf("runegraph: persistence error: %v", err)
		},
	}
	if opts != nil {
		if opts.DebounceInterval > 0 {
			m.interval = opts.DebounceInterval
		}
		if opts.OnError != nil {
			m.onError = opts.OnError
		}
	}
	m.saved = sync.NewCond(&m.mu)
	return m
}

// Key returns the logical key the manager is bound to.
func (m *Manager) Key() string {
	return m.key
}

// Load reads the persisted snapshot for the key. Returns (nil, nil) when no
// record exists.
func (m *Manager) Load() (*engine.Snapshot, error) {
	rec, err := m.store.Get(m.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", m.key, err)
	}
	return &engine.Snapshot{
		Version:   engine.SnapshotVersion,
		Data:      rec.Snapshot,
		Timestamp: rec.Timestamp,
	}, nil
}

// ScheduleSave marks the state dirty and (re)arms the debounce timer. Any
// number of calls within one window produce exactly one write, taken from the
// callback supplied by the most recent call.
func (m *Manager) ScheduleSave(fn SnapshotFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dirty = true
	m.snapshot = fn
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.interval, m.timerFired)
	m.st = stateArmed
}

// timerFired performs the debounced write if the state is still dirty.
func (m *Manager) timerFired() {
	m.mu.Lock()
	if !m.dirty {
		m.st = stateIdle
		m.timer = nil
		m.mu.Unlock()
		return
	}
	// Clear the dirty flag before invoking the snapshot callback so a save
	// scheduled during the callback's own execution is not lost.
	m.dirty = false
	fn := m.snapshot
	m.st = stateSaving
	m.timer = nil
	m.mu.Unlock()

	if err := m.write(fn); err != nil {
		m.onError(err)
	}

	m.mu.Lock()
	if m.st == stateSaving {
		m.st = stateIdle
	}
	m.saved.Broadcast()
	m.mu.Unlock()
}

// Flush cancels any armed timer and, if dirty, writes synchronously. It
// guarantees no scheduled write is lost on shutdown and no write is
// duplicated by a later timer fire. Performs no write when not dirty, but
// still waits for a timer write already in flight, so the caller may
// release the engine the moment Flush returns.
func (m *Manager) Flush(fn SnapshotFunc) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if !m.dirty {
		for m.st == stateSaving {
			m.saved.Wait()
		}
		m.st = stateIdle
		m.mu.Unlock()
		return nil
	}
	m.dirty = false
	if fn == nil {
		fn = m.snapshot
	}
	m.st = stateSaving
	m.mu.Unlock()

	err := m.write(fn)

	m.mu.Lock()
	if m.st == stateSaving {
		m.st = stateIdle
	}
	m.saved.Broadcast()
	m.mu.Unlock()
	return err
}

// Clear cancels any pending save and deletes the persisted record.
func (m *Manager) Clear() error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.dirty = false
	m.st = stateIdle
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.store.Delete(m.key); err != nil {
		return fmt.Errorf("clear snapshot %q: %w", m.key, err)
	}
	return nil
}

// Stats reports the store's usage estimate.
func (m *Manager) Stats() (*storage.Usage, error) {
	return m.store.Usage()
}

// write produces a snapshot and persists it. writeMu guarantees writes for
// the key never interleave.
func (m *Manager) write(fn SnapshotFunc) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if fn == nil {
		return fmt.Errorf("save snapshot %q: no snapshot source", m.key)
	}
	snap, err := fn()
	if err != nil {
		return fmt.Errorf("export snapshot %q: %w", m.key, err)
	}
	err = m.store.Put(&storage.Record{
		Key:       m.key,
		Snapshot:  snap.Data,
		Timestamp: snap.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", m.key, err)
	}
	return nil
}
