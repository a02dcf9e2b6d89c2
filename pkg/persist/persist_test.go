package persist

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/runegraph/pkg/engine"
	"github.com/orneryd/runegraph/pkg/storage"
)

// countingStore wraps a Store and counts writes.
type countingStore struct {
	storage.Store
	puts    atomic.Int64
	deletes atomic.Int64
	failPut atomic.Bool
}

func (c *countingStore) Put(rec *storage.Record) error {
	if c.failPut.Load() {
		return fmt.Errorf("disk full")
	}
	c.puts.Add(1)
	return c.Store.Put(rec)
}

func (c *countingStore) Delete(key string) error {
	c.deletes.Add(1)
	return c.Store.Delete(key)
}

func snapshotOf(data string) SnapshotFunc {
	return func() (*engine.Snapshot, error) {
		return engine.NewSnapshot([]byte(data)), nil
	}
}

func TestManager_DebounceCoalescesWrites(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", &Options{DebounceInterval: 40 * time.Millisecond})

	// Three schedules inside one window produce exactly one write,
	// reflecting the latest state.
	m.ScheduleSave(snapshotOf("v1"))
	m.ScheduleSave(snapshotOf("v2"))
	m.ScheduleSave(snapshotOf("v3"))

	require.Eventually(t, func() bool {
		return store.puts.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Give a second fire a chance to happen; it must not.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), store.puts.Load())

	snap, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []byte("v3"), snap.Data)
}

func TestManager_FlushWritesPending(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", &Options{DebounceInterval: time.Hour})

	m.ScheduleSave(snapshotOf("pending"))
	require.NoError(t, m.Flush(nil))
	assert.Equal(t, int64(1), store.puts.Load())

	snap, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []byte("pending"), snap.Data)

	// The canceled timer must not produce a duplicate write later.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), store.puts.Load())
}

func TestManager_FlushNoOpWhenClean(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", nil)

	require.NoError(t, m.Flush(snapshotOf("unused")))
	assert.Equal(t, int64(0), store.puts.Load())
}

func TestManager_FlushWaitsForInFlightSave(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", &Options{DebounceInterval: 10 * time.Millisecond})

	// The timer fires and enters the snapshot callback, which blocks. A
	// Flush arriving now sees a clean dirty flag but must not return
	// before the save completes: the caller releases the engine right
	// after Flush, and the callback still needs it.
	started := make(chan struct{})
	release := make(chan struct{})
	m.ScheduleSave(func() (*engine.Snapshot, error) {
		close(started)
		<-release
		return engine.NewSnapshot([]byte("late")), nil
	})
	<-started

	flushed := make(chan error, 1)
	go func() { flushed <- m.Flush(nil) }()

	select {
	case <-flushed:
		t.Fatal("Flush returned while a save was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-flushed)
	assert.Equal(t, int64(1), store.puts.Load())

	snap, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []byte("late"), snap.Data)
}

func TestManager_LoadMissingReturnsNil(t *testing.T) {
	m := NewManager(storage.NewMemoryStore(), "k", nil)
	snap, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestManager_Clear(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", &Options{DebounceInterval: 30 * time.Millisecond})

	m.ScheduleSave(snapshotOf("v1"))
	require.NoError(t, m.Flush(nil))

	m.ScheduleSave(snapshotOf("v2"))
	require.NoError(t, m.Clear())

	snap, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, snap, "record must be deleted")

	// The canceled schedule must not resurrect the record.
	time.Sleep(60 * time.Millisecond)
	snap, err = m.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestManager_KeyIsolation(t *testing.T) {
	store := storage.NewMemoryStore()
	ma := NewManager(store, "a", &Options{DebounceInterval: 10 * time.Millisecond})
	mb := NewManager(store, "b", &Options{DebounceInterval: 10 * time.Millisecond})

	ma.ScheduleSave(snapshotOf("state-a"))
	mb.ScheduleSave(snapshotOf("state-b"))
	require.NoError(t, ma.Flush(nil))
	require.NoError(t, mb.Flush(nil))

	snapA, err := ma.Load()
	require.NoError(t, err)
	require.NotNil(t, snapA)
	assert.Equal(t, []byte("state-a"), snapA.Data)

	snapB, err := mb.Load()
	require.NoError(t, err)
	require.NotNil(t, snapB)
	assert.Equal(t, []byte("state-b"), snapB.Data)

	require.NoError(t, ma.Clear())
	snapB, err = mb.Load()
	require.NoError(t, err)
	assert.NotNil(t, snapB, "clearing 'a' must not affect 'b'")
}

func TestManager_WriteErrorsGoToHandler(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	store.failPut.Store(true)

	var mu sync.Mutex
	var handled []error
	m := NewManager(store, "k", &Options{
		DebounceInterval: 10 * time.Millisecond,
		OnError: func(err error) {
			mu.Lock()
			handled = append(handled, err)
			mu.Unlock()
		},
	})

	m.ScheduleSave(snapshotOf("v1"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ScheduleDuringSnapshotCallbackNotLost(t *testing.T) {
	store := &countingStore{Store: storage.NewMemoryStore()}
	m := NewManager(store, "k", &Options{DebounceInterval: 20 * time.Millisecond})

	// The first write's snapshot callback schedules another save. Because
	// the dirty flag is cleared before the callback runs, the nested
	// schedule must arm a second write rather than being swallowed.
	var once sync.Once
	m.ScheduleSave(func() (*engine.Snapshot, error) {
		once.Do(func() {
			m.ScheduleSave(snapshotOf("nested"))
		})
		return engine.NewSnapshot([]byte("outer")), nil
	})

	require.Eventually(t, func() bool {
		return store.puts.Load() == 2
	}, time.Second, 5*time.Millisecond)

	snap, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []byte("nested"), snap.Data)
}

func TestManager_Stats(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, "k", nil)

	m.ScheduleSave(snapshotOf("v1"))
	require.NoError(t, m.Flush(nil))

	usage, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Records)
	assert.Greater(t, usage.UsedBytes, int64(0))
}
