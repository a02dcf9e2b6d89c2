package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Errors returned by the proxy.
var (
	// ErrNotInitialized is returned by Call before Init or after Close
	// (or after a fault cleared the transport). Calls fail fast instead
	// of hanging.
	ErrNotInitialized = errors.New("transport not initialized")

	// ErrTransport marks worker-level faults. A fault rejects every
	// pending call and is terminal for the proxy instance.
	ErrTransport = errors.New("transport fault")
)

// callResult carries the outcome of one pending call.
type callResult struct {
	resp *Response
	err  error
}

// Proxy is the client side of the worker protocol. It allocates strictly
// increasing request ids, tracks pending calls, and matches replies by id so
// out-of-order delivery is tolerated and correct.
type Proxy struct {
	mu       sync.Mutex
	worker   Worker
	pending  map[int64]chan callResult
	nextID   int64
	recvStop chan struct{}
}

// NewProxy creates an unconnected proxy. Call Init before use.
func NewProxy() *Proxy {
	return &Proxy{}
}

// Init attaches the worker, starts the receive loop, and performs the
// handshake as an ordinary init request. On handshake failure the worker is
// terminated and the proxy stays unusable.
func (p *Proxy) Init(ctx context.Context, worker Worker, args ...any) error {
	p.mu.Lock()
	if p.worker != nil {
		p.mu.Unlock()
		return fmt.Errorf("transport already initialized")
	}
	p.worker = worker
	p.pending = make(map[int64]chan callResult)
	p.recvStop = make(chan struct{})
	go p.recvLoop(worker, p.recvStop)
	p.mu.Unlock()

	if _, err := p.Call(ctx, MethodInit, args...); err != nil {
		p.teardown()
		worker.Terminate()
		return fmt.Errorf("transport handshake: %w", err)
	}
	return nil
}

// Call sends {id, method, args} and blocks until the matching reply arrives,
// the transport faults, or ctx is done. Canceling ctx abandons the wait; it
// does not cancel the call on the worker.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	p.mu.Lock()
	if p.worker == nil {
		p.mu.Unlock()
		return nil, ErrNotInitialized
	}
	p.nextID++
	id := p.nextID
	ch := make(chan callResult, 1)
	p.pending[id] = ch
	worker := p.worker
	p.mu.Unlock()

	req := &Request{ID: id, Method: method, Args: args}
	if err := worker.Send(req); err != nil {
		// A failed send is a transport fault: it rejects this call and
		// every other pending call.
		p.fail(fmt.Errorf("%w: %v", ErrTransport, err))
		if res, ok := <-ch; ok {
			return nil, res.err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != "" {
			return nil, errors.New(res.resp.Error)
		}
		return res.resp.Result, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close sends a close request, awaits its reply, terminates the worker, and
// clears all internal references. Calls still outstanding when the close
// reply arrives are rejected with ErrNotInitialized. Idempotent; a closed
// proxy fails Calls with ErrNotInitialized.
func (p *Proxy) Close(ctx context.Context) error {
	p.mu.Lock()
	worker := p.worker
	p.mu.Unlock()
	if worker == nil {
		return nil
	}

	// The close call is always awaited so the worker can finish shutdown
	// work before the transport is torn down. A fault during close still
	// tears the transport down.
	_, callErr := p.Call(ctx, MethodClose)

	p.teardown()
	worker.Terminate()

	if callErr != nil && !errors.Is(callErr, ErrNotInitialized) {
		return fmt.Errorf("close transport: %w", callErr)
	}
	return nil
}

// recvLoop resolves pending calls from worker replies and propagates
// transport faults. It exits when the proxy is torn down or a fault occurs.
func (p *Proxy) recvLoop(worker Worker, stop chan struct{}) {
	responses := worker.Responses()
	faults := worker.Faults()
	for {
		select {
		case resp, ok := <-responses:
			if !ok {
				p.fail(fmt.Errorf("%w: response channel closed", ErrTransport))
				return
			}
			p.resolve(resp)
		case err, ok := <-faults:
			if !ok {
				faults = nil
				continue
			}
			p.fail(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		case <-stop:
			return
		}
	}
}

// resolve delivers a reply to exactly the pending call with the matching id.
// Replies for unknown ids (e.g. a call abandoned on ctx cancel) are dropped.
func (p *Proxy) resolve(resp *Response) {
	p.mu.Lock()
	ch, ok := p.pending[resp.ID]
	if ok {
		delete(p.pending, resp.ID)
	}
	p.mu.Unlock()
	if ok {
		ch <- callResult{resp: resp}
	}
}

// fail rejects every pending call with the fault and clears the transport
// reference: the proxy is not restarted, and later calls fail fast.
func (p *Proxy) fail(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.worker = nil
	if p.recvStop != nil {
		close(p.recvStop)
		p.recvStop = nil
	}
	p.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
		close(ch)
	}
}

// teardown clears the transport reference after an orderly close. Calls
// still outstanding are rejected with ErrNotInitialized rather than left
// waiting for replies that will never arrive.
func (p *Proxy) teardown() {
	p.mu.Lock()
	pending := p.pending
	p.worker = nil
	p.pending = nil
	if p.recvStop != nil {
		close(p.recvStop)
		p.recvStop = nil
	}
	p.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: ErrNotInitialized}
		close(ch)
	}
}
