package state

import (
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta         = []byte("meta")
	bucketBalances     = []byte("balances")
	bucketAllowlist    = []byte("allowlist")
	bucketPositions    = []byte("positions")
	bucketPlans        = []byte("plans")
	bucketLoans        = []byte("loans")
	bucketDeposits     = []byte("deposits")
	bucketLiquidations = []byte("liquidations")
	bucketSettlements  = []byte("settlements")
	bucketAssetIndex   = []byte("settlement-assets")
	bucketClaims       = []byte("claims")
	bucketHoldings     = []byte("holdings")
	bucketSupply       = []byte("supply")

	allBuckets = [][]byte{
		bucketMeta, bucketBalances, bucketAllowlist, bucketPositions, bucketPlans, bucketLoans,
		bucketDeposits, bucketLiquidations, bucketSettlements, bucketAssetIndex, bucketClaims,
		bucketHoldings, bucketSupply,
	}

	// ErrClosed is returned when the store is used after Close.
	ErrClosed = errors.New("state: store closed")
)

// Store persists engine state in a single BoltDB file. Bolt allows one writer
// at a time, which gives every Update a total order.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the BoltDB-backed store.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Update runs fn inside a read-write transaction. Returning an error rolls
// back every write made through the manager.
func (s *Store) Update(fn func(*Manager) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Manager{tx: tx})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(*Manager) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Manager{tx: tx})
	})
}
