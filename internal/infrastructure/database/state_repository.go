package database

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/easywallbox-bridge/internal/bridges/wallbox"
)

// StateRepository persists the last confirmed value of each wallbox field
// so the dashboard can show last-known values after a restart.
//
// It satisfies wallbox.StateStore. Requires the device_state migration.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a repository backed by db.
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// LoadSnapshot returns every stored field.
func (r *StateRepository) LoadSnapshot(ctx context.Context) (wallbox.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT field, value, updated_at FROM device_state ORDER BY field",
	)
	if err != nil {
		return nil, fmt.Errorf("querying device state: %w", err)
	}
	defer rows.Close()

	snap := make(wallbox.Snapshot)
	for rows.Next() {
		var field, value, updatedAt string
		if err := rows.Scan(&field, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning device state row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s: %w", field, err)
		}
		snap[field] = wallbox.FieldValue{Value: value, UpdatedAt: ts}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device state: %w", err)
	}

	return snap, nil
}

// SaveField upserts one field.
func (r *StateRepository) SaveField(ctx context.Context, field string, value wallbox.FieldValue) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_state (field, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(field) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, field, value.Value, value.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving %s: %w", field, err)
	}
	return nil
}
