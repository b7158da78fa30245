package bill

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const billsBucket = "bills"

// DB defines the interface for bill persistence
type DB interface {
	// SaveBill stores a bill, replacing any bill with the same ID
	SaveBill(bill *Bill) error

	// GetBill retrieves a bill by ID
	GetBill(id string) (*Bill, error)

	// ListBills returns all bills, newest first
	ListBills() ([]*Bill, error)

	// DeleteBill removes a bill
	DeleteBill(id string) error

	// UpdateBill loads a bill, applies fn and stores the result atomically.
	// Nothing is written when fn returns an error.
	UpdateBill(id string, fn func(*Bill) error) (*Bill, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database file at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(billsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveBill(bill *Bill) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putBill(tx.Bucket([]byte(billsBucket)), bill)
	})
}

func (b *BoltDB) GetBill(id string) (*Bill, error) {
	var bill *Bill
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		bill, err = getBill(tx.Bucket([]byte(billsBucket)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (b *BoltDB) ListBills() ([]*Bill, error) {
	bills := make([]*Bill, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billsBucket)).ForEach(func(k, v []byte) error {
			var bill Bill
			if err := json.Unmarshal(v, &bill); err != nil {
				return fmt.Errorf("unmarshaling bill %s: %w", k, err)
			}
			bills = append(bills, &bill)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(bills, func(a, b *Bill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return bills, nil
}

func (b *BoltDB) DeleteBill(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billsBucket)).Delete([]byte(id))
	})
}

func (b *BoltDB) UpdateBill(id string, fn func(*Bill) error) (*Bill, error) {
	var bill *Bill
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billsBucket))

		var err error
		bill, err = getBill(bucket, id)
		if err != nil {
			return err
		}
		if err := fn(bill); err != nil {
			return err
		}
		return putBill(bucket, bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getBill(bucket *bbolt.Bucket, id string) (*Bill, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}

	var bill Bill
	if err := json.Unmarshal(data, &bill); err != nil {
		return nil, fmt.Errorf("unmarshaling bill %s: %w", id, err)
	}
	return &bill, nil
}

func putBill(bucket *bbolt.Bucket, bill *Bill) error {
	data, err := json.Marshal(bill)
	if err != nil {
		return fmt.Errorf("marshaling bill: %w", err)
	}
	return bucket.Put([]byte(bill.ID), data)
}
