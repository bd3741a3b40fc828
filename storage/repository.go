// Package storage provides the persistence abstraction for local device
// state and relay server records.
package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is a bucketed JSON record store.
type Repository interface {
	// Put JSON-encodes value and stores it under (bucket, key).
	Put(bucket, key string, value any) error
	// Get decodes the record at (bucket, key) into out. Returns
	// ErrNotFound if absent.
	Get(bucket, key string, out any) error
	// Delete removes the record at (bucket, key). Deleting an absent
	// record is a no-op.
	Delete(bucket, key string) error
	// List returns the keys present in bucket, in key order.
	List(bucket string) ([]string, error)
}
