package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptWorker is a hand-driven Worker for exercising the proxy: tests
// inspect sent requests and reply (or fault) whenever they choose.
type scriptWorker struct {
	mu        sync.Mutex
	sent      []*Request
	responses chan *Response
	faults    chan error
	sendErr   error
	auto      bool
}

func newScriptWorker() *scriptWorker {
	return &scriptWorker{
		responses: make(chan *Response, 16),
		faults:    make(chan error, 1),
	}
}

func (w *scriptWorker) Send(req *Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return w.sendErr
	}
	w.sent = append(w.sent, req)
	// Always auto-answer the handshake so Init completes.
	if w.auto || req.Method == MethodInit {
		w.responses <- &Response{ID: req.ID, Result: "ok"}
	}
	return nil
}

func (w *scriptWorker) Responses() <-chan *Response { return w.responses }
func (w *scriptWorker) Faults() <-chan error        { return w.faults }
func (w *scriptWorker) Terminate()                  {}

func (w *scriptWorker) sentAfterInit() []*Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Request
	for _, r := range w.sent {
		if r.Method != MethodInit {
			out = append(out, r)
		}
	}
	return out
}

func initProxy(t *testing.T) (*Proxy, *scriptWorker) {
	t.Helper()
	w := newScriptWorker()
	p := NewProxy()
	require.NoError(t, p.Init(context.Background(), w))
	return p, w
}

func TestProxy_CallBeforeInit(t *testing.T) {
	p := NewProxy()
	_, err := p.Call(context.Background(), MethodNodeCount)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestProxy_IDsAreStrictlyIncreasing(t *testing.T) {
	p, w := initProxy(t)
	ctx := context.Background()

	w.mu.Lock()
	w.auto = true
	w.mu.Unlock()

	for i := 0; i < 3; i++ {
		_, err := p.Call(ctx, MethodSchema)
		require.NoError(t, err)
	}

	reqs := w.sentAfterInit()
	require.Len(t, reqs, 3)
	for i := 1; i < len(reqs); i++ {
		assert.Greater(t, reqs[i].ID, reqs[i-1].ID)
	}
}

func TestProxy_OutOfOrderReplies(t *testing.T) {
	p, w := initProxy(t)
	ctx := context.Background()

	const n = 5
	results := make([]any, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Call(ctx, MethodExecute, fmt.Sprintf("q%d", i))
		}(i)
	}

	// Wait for all sends, then reply in reverse order with a payload
	// derived from each request's own args.
	require.Eventually(t, func() bool {
		return len(w.sentAfterInit()) == n
	}, time.Second, time.Millisecond)

	reqs := w.sentAfterInit()
	for i := len(reqs) - 1; i >= 0; i-- {
		w.responses <- &Response{ID: reqs[i].ID, Result: "reply-for-" + reqs[i].Args[0].(string)}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("reply-for-q%d", i), results[i],
			"call %d must resolve with the payload matching its own id", i)
	}
}

func TestProxy_ErrorReply(t *testing.T) {
	p, w := initProxy(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Call(context.Background(), MethodExecute, "bad query")
		assert.EqualError(t, err, "syntax error")
	}()

	require.Eventually(t, func() bool {
		return len(w.sentAfterInit()) == 1
	}, time.Second, time.Millisecond)
	w.responses <- &Response{ID: w.sentAfterInit()[0].ID, Error: "syntax error"}
	<-done
}

func TestProxy_FaultRejectsAllPending(t *testing.T) {
	p, w := initProxy(t)
	ctx := context.Background()

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Call(ctx, MethodExecute, "q")
		}(i)
	}
	require.Eventually(t, func() bool {
		return len(w.sentAfterInit()) == n
	}, time.Second, time.Millisecond)

	w.faults <- fmt.Errorf("worker crashed")
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, errs[i], ErrTransport, "pending call %d must fail with the fault", i)
	}

	// A call issued afterward fails fast instead of hanging.
	_, err := p.Call(ctx, MethodExecute, "q")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestProxy_SendFailureIsTransportFault(t *testing.T) {
	p, w := initProxy(t)
	w.mu.Lock()
	w.sendErr = fmt.Errorf("pipe broken")
	w.mu.Unlock()

	_, err := p.Call(context.Background(), MethodExecute, "q")
	assert.ErrorIs(t, err, ErrTransport)

	_, err = p.Call(context.Background(), MethodExecute, "q")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestProxy_ContextCancelAbandonsWait(t *testing.T) {
	p, w := initProxy(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Call(ctx, MethodExecute, "slow")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return len(w.sentAfterInit()) == 1
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// The late reply for the abandoned id is dropped without effect.
	w.responses <- &Response{ID: w.sentAfterInit()[0].ID, Result: "late"}
	time.Sleep(20 * time.Millisecond)
}

func TestProxy_Close(t *testing.T) {
	t.Run("close awaits the close reply", func(t *testing.T) {
		p, w := initProxy(t)

		go func() {
			require.Eventually(t, func() bool {
				for _, r := range w.sentAfterInit() {
					if r.Method == MethodClose {
						w.responses <- &Response{ID: r.ID}
						return true
					}
				}
				return false
			}, time.Second, time.Millisecond)
		}()

		require.NoError(t, p.Close(context.Background()))

		_, err := p.Call(context.Background(), MethodExecute, "q")
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("close settles outstanding calls", func(t *testing.T) {
		p, w := initProxy(t)
		ctx := context.Background()

		// A call whose reply never arrives must not outlive the close:
		// its waiter is rejected, not abandoned.
		callErr := make(chan error, 1)
		go func() {
			_, err := p.Call(ctx, MethodExecute, "MATCH (n) RETURN n")
			callErr <- err
		}()
		require.Eventually(t, func() bool {
			return len(w.sentAfterInit()) == 1
		}, time.Second, time.Millisecond)

		closeErr := make(chan error, 1)
		go func() { closeErr <- p.Close(ctx) }()

		// Answer only the close request.
		require.Eventually(t, func() bool {
			for _, r := range w.sentAfterInit() {
				if r.Method == MethodClose {
					w.responses <- &Response{ID: r.ID}
					return true
				}
			}
			return false
		}, time.Second, time.Millisecond)

		require.NoError(t, <-closeErr)

		select {
		case err := <-callErr:
			assert.ErrorIs(t, err, ErrNotInitialized)
		case <-time.After(time.Second):
			t.Fatal("outstanding call never settled after close")
		}
	})

	t.Run("close on unconnected proxy is a no-op", func(t *testing.T) {
		p := NewProxy()
		assert.NoError(t, p.Close(context.Background()))
	})
}
