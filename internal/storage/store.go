// Package storage provides storage abstractions for farmlink readings.
package storage

import (
	"context"
	"errors"

	"github.com/jwulff/farmlink-go/internal/domain"
)

// Store is the interface for persistent reading storage.
type Store interface {
	// Schema management
	EnsureSchema(ctx context.Context) (SchemaStatus, error)
	MigrateSchema(ctx context.Context) ([]string, error)

	// Readings
	InsertReading(ctx context.Context, reading domain.Reading) (int64, error)
	ListReadings(ctx context.Context) ([]domain.Reading, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// SchemaStatus reports what EnsureSchema found.
type SchemaStatus int

const (
	SchemaExisted SchemaStatus = iota
	SchemaCreated
)

func (s SchemaStatus) String() string {
	switch s {
	case SchemaCreated:
		return "created"
	case SchemaExisted:
		return "existed"
	default:
		return "unknown"
	}
}

// OpError is returned when a storage operation fails.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsOpError checks if an error is a storage operation error.
func IsOpError(err error) bool {
	var opErr *OpError
	return errors.As(err, &opErr)
}
