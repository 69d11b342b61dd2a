// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache stores extraction results keyed by the input
// content and the settings that produced them.
package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gopro/pkg/log"
	"gopro/pkg/telemetry"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"
)

const (
	cacheAPIversion = "1"

	defaultMaxKeys = 1000
)

var (
	resultsBucket = []byte("results-" + cacheAPIversion)
	orderBucket   = []byte("order-" + cacheAPIversion)
)

// ErrCorruptEntry stored entry could not be decoded.
var ErrCorruptEntry = errors.New("corrupt cache entry")

// Cache result cache.
type Cache struct {
	db      *bolt.DB
	maxKeys int
	logger  *log.Logger
}

// Open opens or creates the cache database.
func Open(path string, logger *log.Logger) (*Cache, error) {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(path, 0o600, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w: %v", err, path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(resultsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(orderBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create buckets: %w", err)
	}

	return &Cache{
		db:      db,
		maxKeys: defaultMaxKeys,
		logger:  logger,
	}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key hashes the input and the settings fingerprint.
func Key(r io.Reader, fingerprint []byte) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hash input: %w", err)
	}
	h.Write(fingerprint) //nolint:errcheck
	return h.Sum(nil), nil
}

// Get returns the stored result, the bool is false if there is none.
func (c *Cache) Get(key []byte) (telemetry.Result, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(resultsBucket).Get(key)
		if value != nil {
			raw = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}

	_, payload, err := decodeValue(raw)
	if err != nil {
		return nil, false, err
	}
	var res telemetry.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	restoreKeys(res)

	c.logger.Debug().Src("cache").Msgf("hit %x", key[:8])
	return res, true, nil
}

// Decoded results have no ids or keys outside of the map keys.
func restoreKeys(res telemetry.Result) {
	for id, dev := range res {
		dev.ID = id
		for key, s := range dev.Streams {
			s.Key = key
		}
	}
}

// Put stores the result. The oldest entry is removed
// when the cache is full.
func (c *Cache) Put(key []byte, res telemetry.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		results := tx.Bucket(resultsBucket)
		order := tx.Bucket(orderBucket)

		if old := results.Get(key); old != nil {
			seq, _, err := decodeValue(old)
			if err == nil {
				if err := order.Delete(encodeKey(seq)); err != nil {
					return err
				}
			}
		} else if results.Stats().KeyN >= c.maxKeys {
			if err := deleteFirstKey(results, order); err != nil {
				return fmt.Errorf("could not delete first key: %w", err)
			}
		}

		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		if err := order.Put(encodeKey(seq), key); err != nil {
			return err
		}
		return results.Put(key, encodeValue(seq, payload))
	})
}

func deleteFirstKey(results, order *bolt.Bucket) error {
	k, v := order.Cursor().First()
	if k == nil {
		return nil
	}
	seq := append([]byte(nil), k...)
	key := append([]byte(nil), v...)
	if err := results.Delete(key); err != nil {
		return err
	}
	return order.Delete(seq)
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}

// Values are the insert sequence followed by the JSON result.
func encodeValue(seq uint64, payload []byte) []byte {
	return append(encodeKey(seq), payload...)
}

func decodeValue(value []byte) (uint64, []byte, error) {
	if len(value) < 8 {
		return 0, nil, ErrCorruptEntry
	}
	return binary.BigEndian.Uint64(value[:8]), value[8:], nil
}
