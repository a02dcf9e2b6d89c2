package engine

import "sync"

// Handle is the ownership wrapper around one live engine instance.
//
// It enforces the released-state guard: after Release, every other method
// fails with ErrReleased instead of reaching the freed engine. Release itself
// is idempotent. At most one live engine instance exists per Handle.
type Handle struct {
	mu       sync.RWMutex
	eng      Engine
	released bool
}

// NewHandle wraps an engine instance. The handle takes ownership; callers
// must not use the engine directly afterwards.
func NewHandle(eng Engine) *Handle {
	return &Handle{eng: eng}
}

// engine returns the wrapped engine, or ErrReleased after Release.
func (h *Handle) engine() (Engine, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return nil, ErrReleased
	}
	return h.eng, nil
}

// Execute runs a query against the wrapped engine.
func (h *Handle) Execute(query string) ([]Row, error) {
	eng, err := h.engine()
	if err != nil {
		return nil, err
	}
	return eng.Execute(query)
}

// ExecuteRaw runs a query and returns the tabular result.
func (h *Handle) ExecuteRaw(query string) (*RawResult, error) {
	eng, err := h.engine()
	if err != nil {
		return nil, err
	}
	return eng.ExecuteRaw(query)
}

// ExecuteWithLanguage runs a query written in the named language.
func (h *Handle) ExecuteWithLanguage(query, language string) ([]Row, error) {
	eng, err := h.engine()
	if err != nil {
		return nil, err
	}
	return eng.ExecuteWithLanguage(query, language)
}

// NodeCount returns the engine's node count.
func (h *Handle) NodeCount() (int, error) {
	eng, err := h.engine()
	if err != nil {
		return 0, err
	}
	return eng.NodeCount(), nil
}

// EdgeCount returns the engine's edge count.
func (h *Handle) EdgeCount() (int, error) {
	eng, err := h.engine()
	if err != nil {
		return 0, err
	}
	return eng.EdgeCount(), nil
}

// Schema returns the engine's schema description.
func (h *Handle) Schema() (map[string]any, error) {
	eng, err := h.engine()
	if err != nil {
		return nil, err
	}
	return eng.Schema()
}

// ExportSnapshot exports the full engine state as a versioned snapshot.
func (h *Handle) ExportSnapshot() (*Snapshot, error) {
	eng, err := h.engine()
	if err != nil {
		return nil, err
	}
	data, err := eng.ExportSnapshot()
	if err != nil {
		return nil, err
	}
	return NewSnapshot(data), nil
}

// Version reports the wrapped engine's version string.
func (h *Handle) Version() (string, error) {
	eng, err := h.engine()
	if err != nil {
		return "", err
	}
	return eng.Version(), nil
}

// Release frees the wrapped engine. Safe to call more than once; calls after
// the first are no-ops.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	eng := h.eng
	h.eng = nil
	eng.Release()
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}
