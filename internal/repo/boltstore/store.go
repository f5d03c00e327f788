// Package boltstore is the embedded single-file ledger. Every mutating
// operation runs in one bolt read-write transaction; bolt admits a single
// writer at a time, so each operation is serialized against all others.
package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	bucketUsers            = []byte("users")
	bucketReferralCodes    = []byte("referral_codes")
	bucketPayments         = []byte("payments")
	bucketReferrals        = []byte("referrals")
	bucketReferralPayments = []byte("referral_payments")
	bucketPayouts          = []byte("payouts")
)

type Store struct {
	db *bolt.DB
}

// Open opens or creates the ledger file at path and ensures its buckets exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketReferralCodes,
			bucketPayments,
			bucketReferrals,
			bucketReferralPayments,
			bucketPayouts,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func getJSON(b *bolt.Bucket, key []byte, dst any) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := jsonUnmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func jsonUnmarshal(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode ledger record: %w", err)
	}
	return nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 200:
		return 200
	default:
		return limit
	}
}
