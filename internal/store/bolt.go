package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/gustycube/skywatch/internal/emit"
)

var (
	bucketTargets = []byte("targets")
	bucketMeta    = []byte("meta")
	keySyncedAt   = []byte("synced_at")
)

// Bolt keeps the latest snapshot in a BoltDB file, one key per target.
type Bolt struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTargets, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

// Persist replaces the stored snapshot in a single transaction.
func (b *Bolt) Persist(ctx context.Context, records []emit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketTargets); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(bucketTargets)
		if err != nil {
			return err
		}
		for _, r := range records {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", r.ID, err)
			}
			if err := bucket.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		stamp, _ := time.Now().UTC().MarshalText()
		return tx.Bucket(bucketMeta).Put(keySyncedAt, stamp)
	})
}

// Load returns the stored snapshot ordered by id.
func (b *Bolt) Load() ([]emit.Record, error) {
	var out []emit.Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTargets).ForEach(func(k, v []byte) error {
			var r emit.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// SyncedAt reports when the last snapshot was written.
func (b *Bolt) SyncedAt() (time.Time, error) {
	var t time.Time
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keySyncedAt)
		if v == nil {
			return nil
		}
		return t.UnmarshalText(v)
	})
	return t, err
}
