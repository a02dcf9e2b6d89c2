package runegraph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// The process-wide engine bootstrap. However many databases open
// concurrently, the bootstrap hook runs at most once; racing callers all
// await the same in-flight attempt. A failed attempt is not cached as
// success: the next EnsureReady call re-runs the hook.
var bootstrap struct {
	mu    sync.Mutex
	group singleflight.Group
	ready bool
	hook  func(context.Context) error
}

// SetBootstrapHook installs the function that loads the native engine
// module. It must be called before the first Open; passing nil restores the
// default (no engine module to load). Tests use it together with
// ResetBootstrap to simulate bootstrap failures.
func SetBootstrapHook(fn func(context.Context) error) {
	bootstrap.mu.Lock()
	defer bootstrap.mu.Unlock()
	bootstrap.hook = fn
}

// ResetBootstrap clears the memoized bootstrap state so the next EnsureReady
// runs the hook again. Intended for tests.
func ResetBootstrap() {
	bootstrap.mu.Lock()
	defer bootstrap.mu.Unlock()
	bootstrap.ready = false
}

// EnsureReady performs the process-wide engine bootstrap exactly once.
// Concurrent callers share one attempt and all receive its error if it
// fails.
func EnsureReady(ctx context.Context) error {
	bootstrap.mu.Lock()
	if bootstrap.ready {
		bootstrap.mu.Unlock()
		return nil
	}
	hook := bootstrap.hook
	bootstrap.mu.Unlock()

	_, err, _ := bootstrap.group.Do("bootstrap", func() (any, error) {
		if hook != nil {
			if err := hook(ctx); err != nil {
				return nil, err
			}
		}
		bootstrap.mu.Lock()
		bootstrap.ready = true
		bootstrap.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBootstrap, err)
	}
	return nil
}
