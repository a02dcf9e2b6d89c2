package runegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/persist"
	"github.com/orneryd/runegraph/pkg/storage"
)

// directBackend runs the engine in-process. It owns the engine handle, the
// optional persistence manager, and (when it opened the store itself) the
// store.
type directBackend struct {
	factory engine.Factory
	pm      *persist.Manager

	// mu guards handle replacement (Clear, Import). The handle itself is
	// safe for concurrent use.
	mu     sync.RWMutex
	handle *engine.Handle

	store    storage.Store
	ownStore bool
}

func (d *directBackend) current() *engine.Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

func (d *directBackend) execute(_ context.Context, q string) ([]engine.Row, error) {
	h := d.current()
	rows, err := h.Execute(q)
	if err != nil {
		return nil, err
	}
	classifyAndSchedule(q, d.pm, h)
	return rows, nil
}

func (d *directBackend) executeRaw(_ context.Context, q string) (*engine.RawResult, error) {
	h := d.current()
	res, err := h.ExecuteRaw(q)
	if err != nil {
		return nil, err
	}
	classifyAndSchedule(q, d.pm, h)
	return res, nil
}

func (d *directBackend) executeWithLanguage(_ context.Context, q, language string) ([]engine.Row, error) {
	h := d.current()
	rows, err := h.ExecuteWithLanguage(q, language)
	if err != nil {
		return nil, err
	}
	classifyAndSchedule(q, d.pm, h)
	return rows, nil
}

func (d *directBackend) nodeCount(_ context.Context) (int, error) {
	return d.current().NodeCount()
}

func (d *directBackend) edgeCount(_ context.Context) (int, error) {
	return d.current().EdgeCount()
}

func (d *directBackend) schema(_ context.Context) (map[string]any, error) {
	return d.current().Schema()
}

func (d *directBackend) export(_ context.Context) (*engine.Snapshot, error) {
	return d.current().ExportSnapshot()
}

// importSnapshot constructs a fresh handle from the snapshot bytes and
// replaces the current one.
func (d *directBackend) importSnapshot(_ context.Context, data []byte) error {
	eng, err := d.factory.FromSnapshot(data)
	if err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}
	d.replaceHandle(engine.NewHandle(eng))
	if d.pm != nil {
		h := d.current()
		d.pm.ScheduleSave(func() (*engine.Snapshot, error) {
			return h.ExportSnapshot()
		})
	}
	return nil
}

// clear releases the engine, constructs a fresh empty one, and deletes the
// persisted record.
func (d *directBackend) clear(_ context.Context) error {
	eng, err := d.factory.Open()
	if err != nil {
		return fmt.Errorf("clear database: %w", err)
	}
	d.replaceHandle(engine.NewHandle(eng))
	if d.pm != nil {
		if err := d.pm.Clear(); err != nil {
			return err
		}
	}
	return nil
}

func (d *directBackend) storageStats(_ context.Context) (*storage.Usage, error) {
	if d.pm == nil {
		return nil, ErrNoPersistence
	}
	return d.pm.Stats()
}

// close flushes persistence, releases the handle, and closes an owned store.
func (d *directBackend) close(_ context.Context) error {
	var firstErr error
	if d.pm != nil {
		h := d.current()
		if err := d.pm.Flush(func() (*engine.Snapshot, error) {
			return h.ExportSnapshot()
		}); err != nil {
			firstErr = err
		}
	}

	d.current().Release()

	if d.ownStore && d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// replaceHandle swaps in a new handle and releases the old one.
func (d *directBackend) replaceHandle(h *engine.Handle) {
	d.mu.Lock()
	old := d.handle
	d.handle = h
	d.mu.Unlock()
	old.Release()
}

var _ backend = (*directBackend)(nil)
