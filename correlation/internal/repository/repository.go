// Package repository persists correlation records.
package repository

import (
	"context"
	"errors"

	"github.com/reconhawk/reconhawk-stack/correlation/internal/models"
)

var ErrCorrelationNotFound = errors.New("correlation not found")

// ResultStore is what the engine writes to. CreateCorrelation must be idempotent on
// the record's natural key (rule id, scan ids, aggregation value): writing the same
// key twice returns the existing id instead of creating a second record. It must be
// safe for concurrent use.
type ResultStore interface {
	CreateCorrelation(ctx context.Context, rec *models.CorrelationRecord) (string, error)
}

// ListFilter selects stored correlations.
type ListFilter struct {
	ScanID string
	RuleID string
	Limit  int
	Offset int
}

// Repository is the full persistence surface used by the service layer.
type Repository interface {
	ResultStore
	GetCorrelation(ctx context.Context, id string) (*models.CorrelationRecord, error)
	ListCorrelations(ctx context.Context, filter ListFilter) ([]*models.CorrelationRecord, int, error)
	Close() error
}
