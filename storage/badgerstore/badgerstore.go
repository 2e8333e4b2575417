// Package badgerstore provides a durable sample store backed by an embedded
// BadgerDB. Sample payloads are stored as zstd-compressed JSON under
// time-ordered keys so retention sweeps and window scans walk a contiguous
// key range.
package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
	"github.com/kavindyakdn/smart-home-energy-monitor/storage"
	"github.com/kavindyakdn/smart-home-energy-monitor/telemetry"
)

// keyPrefix namespaces sample records inside the database.
const keyPrefix = "sample/"

// Config holds badgerstore configuration.
type Config struct {
	// Path is the on-disk directory for the Badger database.
	Path string

	// CompressionLevel selects the zstd encoder level, 1 (fastest) to
	// 4 (best). Zero means default.
	CompressionLevel int
}

// Store is a BadgerDB-backed implementation of storage.Store.
type Store struct {
	db    *badger.DB
	codec *codec
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the Badger database at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"badgerstore", "New", "database path")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil // Badger's own logging is too chatty for slog setups

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "badgerstore", "New", "open database")
	}

	codec, err := newCodec(cfg.CompressionLevel)
	if err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "badgerstore", "New", "create codec")
	}

	return &Store{db: db, codec: codec}, nil
}

// sampleKey builds a time-ordered key: sample/<ts-nanos-hex>/<id>.
// The fixed-width timestamp keeps lexicographic order equal to time order.
func sampleKey(sample telemetry.Sample) []byte {
	return []byte(fmt.Sprintf("%s%016x/%s", keyPrefix, sample.Timestamp.UnixNano(), sample.ID))
}

// cutoffKey is the smallest key at or after the cutoff instant.
func cutoffKey(cutoff time.Time) []byte {
	return []byte(fmt.Sprintf("%s%016x/", keyPrefix, cutoff.UnixNano()))
}

// Append implements storage.Store.
func (s *Store) Append(ctx context.Context, sample telemetry.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, "badgerstore", "Append", "marshal sample")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(sample), s.codec.compress(payload))
	})
	if err != nil {
		return errors.WrapTransient(err, "badgerstore", "Append", "write sample")
	}
	return nil
}

// Find implements storage.Store. The scan walks the sample key range in time
// order and applies the filter per record; receivedAt bounds cannot be
// answered from the key alone.
func (s *Store) Find(ctx context.Context, filter storage.Filter) ([]telemetry.Sample, error) {
	out := make([]telemetry.Sample, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var sample telemetry.Sample
			err := it.Item().Value(func(val []byte) error {
				payload, err := s.codec.decompress(val)
				if err != nil {
					return err
				}
				return json.Unmarshal(payload, &sample)
			})
			if err != nil {
				return err
			}

			if filter.Match(sample) {
				out = append(out, sample)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "badgerstore", "Find", "scan samples")
	}
	return out, nil
}

// DeleteOlderThan implements storage.Store. Keys sort by reading timestamp,
// so the delete scan stops at the first key at or past the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var victims [][]byte
	limit := cutoffKey(cutoff)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(limit) {
				break
			}
			victims = append(victims, key)
		}
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "badgerstore", "DeleteOlderThan", "scan keys")
	}

	if len(victims) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range victims {
		if err := wb.Delete(key); err != nil {
			return 0, errors.WrapTransient(err, "badgerstore", "DeleteOlderThan", "delete key")
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, errors.WrapTransient(err, "badgerstore", "DeleteOlderThan", "flush deletes")
	}

	return len(victims), nil
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "badgerstore", "Count", "scan keys")
	}
	return count, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.codec.close()
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "badgerstore", "Close", "close database")
	}
	return nil
}
