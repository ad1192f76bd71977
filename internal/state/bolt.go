package state

import (
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	fileutil "ingestdesk/internal/file"
)

const localStorageBucket = "local_storage"

// BoltStorage persists keys in a single bbolt bucket.
type BoltStorage struct {
	db *bbolt.DB
}

// OpenBoltStorage opens (or creates) the database file and its bucket.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err //nolint:wrapcheck
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(localStorageBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(localStorageBucket)).Get([]byte(key))
		if raw != nil {
			// bytes are only valid inside the transaction
			value = string(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get %s: %w", key, err)
	}
	return value, found, nil
}

func (b *BoltStorage) Set(key, value string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(localStorageBucket)).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("bolt set %s: %w", key, err)
	}
	return nil
}

func (b *BoltStorage) Remove(key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(localStorageBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt remove %s: %w", key, err)
	}
	return nil
}

func (b *BoltStorage) Close() error {
	return b.db.Close() //nolint:wrapcheck
}
