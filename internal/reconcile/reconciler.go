package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/models"
)

// RecordError is a non-fatal per-record write failure.
type RecordError struct {
	Key     models.NaturalKey `json:"key"`
	Message string            `json:"message"`
}

// Report aggregates the outcome of one reconcile pass.
type Report struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Stale      int `json:"stale"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`

	// Touched lists the natural keys that were written (created or updated).
	Touched []models.NaturalKey `json:"touched,omitempty"`
	Errors  []RecordError       `json:"errors,omitempty"`
}

// Changed reports whether the pass wrote anything.
func (r Report) Changed() bool { return r.Created > 0 || r.Updated > 0 }

// Reconciler merges freshly fetched readings into persisted state,
// enforcing one row per (station_uid, source) with a recency guard.
// The pass is idempotent: replaying the same batch writes nothing and
// reports every reading as stale.
type Reconciler struct {
	storage Storage
	logger  *zap.Logger
}

// New builds a Reconciler.
func New(storage Storage, logger *zap.Logger) *Reconciler {
	return &Reconciler{storage: storage, logger: logger}
}

// Reconcile applies one combined batch. Per-record validation and write
// failures are absorbed into the report; only a storage connection loss
// (or context cancellation) aborts the remaining batch and returns an error
// alongside the partial report.
func (r *Reconciler) Reconcile(ctx context.Context, readings []models.StationReading) (Report, error) {
	var report Report

	keys, grouped := r.dedupe(readings, &report)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		reading := grouped[key]
		if err := r.apply(ctx, reading, &report); err != nil {
			if IsConnectionLost(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, fmt.Errorf("reconcile aborted at %s: %w", key, err)
			}
			report.Failed++
			report.Errors = append(report.Errors, RecordError{Key: key, Message: err.Error()})
			r.logger.Warn("station write failed", zap.String("key", key.String()), zap.Error(err))
		}
	}

	r.logger.Info("reconcile pass finished",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("stale", report.Stale),
		zap.Int("invalid", report.Invalid),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// dedupe validates readings and collapses intra-batch duplicates, keeping
// the one with the latest observedAt per natural key. Keys come back in
// first-seen order so writes happen in a stable order.
func (r *Reconciler) dedupe(readings []models.StationReading, report *Report) ([]models.NaturalKey, map[models.NaturalKey]*models.StationReading) {
	grouped := make(map[models.NaturalKey]*models.StationReading, len(readings))
	keys := make([]models.NaturalKey, 0, len(readings))

	for i := range readings {
		reading := readings[i]
		if err := reading.Validate(); err != nil {
			report.Invalid++
			r.logger.Debug("reading rejected", zap.Int64("uid", reading.StationUID),
				zap.String("source", reading.Source), zap.Error(err))
			continue
		}

		key := reading.Key()
		existing, seen := grouped[key]
		if !seen {
			grouped[key] = &reading
			keys = append(keys, key)
			continue
		}

		report.Duplicates++
		if reading.ObservedAt.After(existing.ObservedAt) {
			grouped[key] = &reading
		}
	}

	return keys, grouped
}

// apply decides insert/update/skip for one deduplicated reading.
func (r *Reconciler) apply(ctx context.Context, reading *models.StationReading, report *Report) error {
	current, err := r.storage.FindByNaturalKey(ctx, reading.StationUID, reading.Source)
	if err != nil {
		return err
	}

	if current != nil && !reading.ObservedAt.After(current.ObservedAt) {
		report.Stale++
		return nil
	}

	if err := r.storage.Upsert(ctx, reading); err != nil {
		return err
	}

	if current == nil {
		report.Created++
	} else {
		report.Updated++
	}
	report.Touched = append(report.Touched, reading.Key())
	return nil
}
