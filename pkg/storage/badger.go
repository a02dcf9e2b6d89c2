package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixMeta   = byte(0x00) // meta:name -> format metadata
	prefixRecord = byte(0x01) // record:key -> encoded snapshot record
)

// formatVersion is the on-disk record format version. Stores written by an
// older format are upgraded on open; a newer format fails the open.
const formatVersion = 1

var metaFormatKey = []byte{prefixMeta, 'f', 'o', 'r', 'm', 'a', 't'}

// storedRecord is the on-disk envelope. The snapshot payload is
// zstd-compressed and checksummed with BLAKE2b-256 over the uncompressed
// bytes; the checksum is verified on every read.
type storedRecord struct {
	Key       string `json:"key"`
	Payload   []byte `json:"payload"`
	Checksum  []byte `json:"checksum"`
	Timestamp int64  `json:"timestamp"`
}

// BadgerStore is a persistent snapshot-record store backed by BadgerDB.
//
// Every operation runs in a Badger transaction, so a record write is atomic:
// readers see either the previous record or the new one, never a torn write.
type BadgerStore struct {
	db     *badger.DB
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	mu     sync.RWMutex
	closed bool
}

// BadgerStoreOptions configures the Badger-backed store.
type BadgerStoreOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// NewBadgerStore opens (or creates) a store at dataDir with default options.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerStoreOptions{DataDir: dataDir})
}

// NewBadgerStoreWithOptions opens a store with custom configuration and
// performs the format-version check/upgrade.
func NewBadgerStoreWithOptions(opts BadgerStoreOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	// Quiet logger and reduced buffer sizes: snapshot records are few and
	// small compared to a general workload.
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	s := &BadgerStore{db: db, enc: enc, dec: dec}
	if err := s.ensureFormat(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ensureFormat reads the stored format version, stamps a fresh store, and
// upgrades older formats in place. A store written by a newer format version
// is refused rather than silently misread.
func (s *BadgerStore) ensureFormat() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaFormatKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, formatVersion)
			return txn.Set(metaFormatKey, buf)
		}
		if err != nil {
			return fmt.Errorf("read format version: %w", err)
		}

		var stored uint64
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("malformed format version")
			}
			stored = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return err
		}

		switch {
		case stored == formatVersion:
			return nil
		case stored > formatVersion:
			return fmt.Errorf("store format v%d is newer than supported v%d", stored, formatVersion)
		default:
			// No older formats exist yet; upgrade hooks go here. Stamp
			// the current version after a successful upgrade.
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, formatVersion)
			return txn.Set(metaFormatKey, buf)
		}
	})
}

func recordKey(key string) []byte {
	k := make([]byte, 0, 1+len(key))
	k = append(k, prefixRecord)
	return append(k, key...)
}

// Get returns the record for key, verifying its checksum.
func (s *BadgerStore) Get(key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var env storedRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record %q: %w", key, err)
	}

	snapshot, err := s.dec.DecodeAll(env.Payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress record %q: %w", key, err)
	}
	sum := blake2b.Sum256(snapshot)
	if !bytes.Equal(sum[:], env.Checksum) {
		return nil, fmt.Errorf("record %q failed checksum verification", key)
	}

	return &Record{
		Key:       env.Key,
		Snapshot:  snapshot,
		Timestamp: env.Timestamp,
	}, nil
}

// Put writes the record atomically, compressing and checksumming the
// snapshot payload.
func (s *BadgerStore) Put(rec *Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	sum := blake2b.Sum256(rec.Snapshot)
	env := storedRecord{
		Key:       rec.Key,
		Payload:   s.enc.EncodeAll(rec.Snapshot, nil),
		Checksum:  sum[:],
		Timestamp: rec.Timestamp,
	}
	val, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", rec.Key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Key), val)
	})
	if err != nil {
		return fmt.Errorf("write record %q: %w", rec.Key, err)
	}
	return nil
}

// Delete removes the record for key. Deleting a missing key is a no-op.
func (s *BadgerStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(key))
	})
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

// Usage estimates storage consumption from Badger's LSM and value-log sizes
// plus a record count scan.
func (s *BadgerStore) Usage() (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	lsm, vlog := s.db.Size()
	records := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixRecord}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			records++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	return &Usage{
		UsedBytes: lsm + vlog,
		Records:   records,
	}, nil
}

// Close releases the store. Safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
