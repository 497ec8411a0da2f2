package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/crazysandman/air-quality/internal/models"
)

// StorageKind classifies storage failures.
type StorageKind string

const (
	StorageConnectionLost      StorageKind = "connection_lost"
	StorageConstraintViolation StorageKind = "constraint_violation"
)

// StorageError is returned by Storage implementations. A ConnectionLost
// error aborts the remaining batch; everything else is absorbed as a
// per-record failure.
type StorageError struct {
	Kind StorageKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether err is a total storage outage.
func IsConnectionLost(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == StorageConnectionLost
}

// Storage is the persistence port the reconciler writes through.
// FindByNaturalKey returns (nil, nil) when no row exists for the key.
type Storage interface {
	FindByNaturalKey(ctx context.Context, uid int64, source string) (*models.StationReading, error)
	Upsert(ctx context.Context, reading *models.StationReading) error
}
