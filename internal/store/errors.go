package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by point reads of an absent notification.
	ErrNotFound = errors.New("notification not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrTxDone is returned by Tx methods used after the batch returned.
	ErrTxDone = errors.New("transaction already finished")
)

// StorageFault is an engine I/O or constraint failure during a mutation.
// The transaction it happened in has been rolled back.
type StorageFault struct {
	// Op names the mutation, e.g. "insert" or "delete by ids".
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault: %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *StorageFault) Unwrap() error {
	return e.Err
}

// IsStorageFault reports whether err is or wraps a *StorageFault.
func IsStorageFault(err error) bool {
	var sf *StorageFault
	return errors.As(err, &sf)
}

func fault(op string, err error) error {
	if err == nil || IsStorageFault(err) {
		return err
	}
	return &StorageFault{Op: op, Err: err}
}
