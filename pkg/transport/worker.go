package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/persist"
	"github.com/orneryd/runegraph/pkg/query"
	"github.com/orneryd/runegraph/pkg/storage"
)

// EngineWorkerOptions configures an in-process engine worker.
type EngineWorkerOptions struct {
	// Factory constructs the worker's engine. Default: engine.MemoryFactory.
	Factory engine.Factory

	// Store enables persistence on the worker side. Optional.
	Store storage.Store

	// PersistKey is the logical key for persistence. Required when Store
	// is set.
	PersistKey string

	// DebounceInterval overrides the persistence debounce window.
	DebounceInterval time.Duration

	// QueueSize bounds the request channel. Default 16.
	QueueSize int
}

// EngineWorker hosts one engine instance on its own goroutine and serves the
// wire method set over structured message channels. The engine lives
// entirely on the worker side; persistence hooks run there too, since only
// the worker can snapshot its engine.
type EngineWorker struct {
	factory  engine.Factory
	store    storage.Store
	key      string
	debounce time.Duration

	requests  chan *Request
	responses chan *Response
	faults    chan error
	stop      chan struct{}
	stopOnce  sync.Once

	// Worker-goroutine state, untouched from outside the loop.
	handle *engine.Handle
	pm     *persist.Manager
}

// NewEngineWorker creates the worker and starts its serve loop. The engine
// itself is not constructed until the init request arrives.
func NewEngineWorker(opts EngineWorkerOptions) *EngineWorker {
	if opts.Factory == nil {
		opts.Factory = engine.MemoryFactory{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	w := &EngineWorker{
		factory:   opts.Factory,
		store:     opts.Store,
		key:       opts.PersistKey,
		debounce:  opts.DebounceInterval,
		requests:  make(chan *Request, opts.QueueSize),
		responses: make(chan *Response, opts.QueueSize),
		faults:    make(chan error, 1),
		stop:      make(chan struct{}),
	}
	go w.serve()
	return w
}

// Send delivers a request to the worker loop.
func (w *EngineWorker) Send(req *Request) error {
	select {
	case w.requests <- req:
		return nil
	case <-w.stop:
		return fmt.Errorf("worker terminated")
	}
}

// Responses yields the worker's replies.
func (w *EngineWorker) Responses() <-chan *Response {
	return w.responses
}

// Faults yields worker-level failures.
func (w *EngineWorker) Faults() <-chan error {
	return w.faults
}

// Terminate stops the worker loop. Idempotent.
func (w *EngineWorker) Terminate() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// serve is the worker loop: one request at a time, replies tagged with the
// request id. A panic in a handler is reported as a transport fault.
func (w *EngineWorker) serve() {
	defer func() {
		if r := recover(); r != nil {
			select {
			case w.faults <- fmt.Errorf("worker panic: %v", r):
			default:
			}
		}
		if w.handle != nil {
			w.handle.Release()
			w.handle = nil
		}
	}()

	for {
		select {
		case req := <-w.requests:
			result, err := w.dispatch(req)
			resp := &Response{ID: req.ID}
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Result = result
			}
			select {
			case w.responses <- resp:
			case <-w.stop:
				return
			}
			if req.Method == MethodClose {
				return
			}
		case <-w.stop:
			return
		}
	}
}

// dispatch routes one request to its handler.
func (w *EngineWorker) dispatch(req *Request) (any, error) {
	if req.Method == MethodInit {
		return w.handleInit()
	}
	if w.handle == nil {
		return nil, fmt.Errorf("worker engine not initialized")
	}

	switch req.Method {
	case MethodExecute:
		q, err := stringArg(req, 0)
		if err != nil {
			return nil, err
		}
		rows, err := w.handle.Execute(q)
		if err != nil {
			return nil, err
		}
		w.noteQuery(q)
		return rows, nil

	case MethodExecuteRaw:
		q, err := stringArg(req, 0)
		if err != nil {
			return nil, err
		}
		res, err := w.handle.ExecuteRaw(q)
		if err != nil {
			return nil, err
		}
		w.noteQuery(q)
		return res, nil

	case MethodNodeCount:
		return w.handle.NodeCount()

	case MethodEdgeCount:
		return w.handle.EdgeCount()

	case MethodSchema:
		return w.handle.Schema()

	case MethodExport:
		return w.handle.ExportSnapshot()

	case MethodImport:
		data, err := bytesArg(req, 0)
		if err != nil {
			return nil, err
		}
		eng, err := w.factory.FromSnapshot(data)
		if err != nil {
			return nil, err
		}
		w.handle.Release()
		w.handle = engine.NewHandle(eng)
		w.scheduleSave()
		return nil, nil

	case MethodClear:
		eng, err := w.factory.Open()
		if err != nil {
			return nil, err
		}
		w.handle.Release()
		w.handle = engine.NewHandle(eng)
		if w.pm != nil {
			if err := w.pm.Clear(); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case MethodStorageStats:
		if w.pm == nil {
			return nil, fmt.Errorf("persistence not configured")
		}
		return w.pm.Stats()

	case MethodClose:
		return nil, w.handleClose()

	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

// handleInit constructs the engine, restoring persisted state when a store
// and key are configured. Replies with the engine version string.
func (w *EngineWorker) handleInit() (any, error) {
	if w.handle != nil {
		return nil, fmt.Errorf("worker already initialized")
	}

	var snap *engine.Snapshot
	if w.store != nil && w.key != "" {
		w.pm = persist.NewManager(w.store, w.key, &persist.Options{
			DebounceInterval: w.debounce,
		})
		loaded, err := w.pm.Load()
		if err != nil {
			return nil, err
		}
		snap = loaded
	}

	var eng engine.Engine
	var err error
	if snap != nil {
		eng, err = w.factory.FromSnapshot(snap.Data)
	} else {
		eng, err = w.factory.Open()
	}
	if err != nil {
		return nil, err
	}
	w.handle = engine.NewHandle(eng)

	version, err := w.handle.Version()
	if err != nil {
		return nil, err
	}
	return version, nil
}

// handleClose flushes persistence and releases the engine. The serve loop
// exits after the reply is delivered.
func (w *EngineWorker) handleClose() error {
	var err error
	if w.pm != nil {
		err = w.pm.Flush(w.snapshotFunc())
	}
	w.handle.Release()
	w.handle = nil
	return err
}

// noteQuery schedules a persistence write when the query mutates state.
func (w *EngineWorker) noteQuery(q string) {
	if w.pm != nil && query.IsMutating(q) {
		w.scheduleSave()
	}
}

func (w *EngineWorker) scheduleSave() {
	if w.pm == nil {
		return
	}
	w.pm.ScheduleSave(w.snapshotFunc())
}

// snapshotFunc binds the save callback to the current engine handle.
func (w *EngineWorker) snapshotFunc() persist.SnapshotFunc {
	h := w.handle
	return func() (*engine.Snapshot, error) {
		return h.ExportSnapshot()
	}
}

func stringArg(req *Request, i int) (string, error) {
	if i >= len(req.Args) {
		return "", fmt.Errorf("%s: missing argument %d", req.Method, i)
	}
	s, ok := req.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string", req.Method, i)
	}
	return s, nil
}

func bytesArg(req *Request, i int) ([]byte, error) {
	if i >= len(req.Args) {
		return nil, fmt.Errorf("%s: missing argument %d", req.Method, i)
	}
	switch v := req.Args[i].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%s: argument %d must be bytes", req.Method, i)
	}
}

var _ Worker = (*EngineWorker)(nil)
