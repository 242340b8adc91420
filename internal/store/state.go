package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/devcost/internal/accumulator"
)

// StateRecord is one persisted accumulator row.
type StateRecord struct {
	Key       string
	State     accumulator.State
	UpdatedAt time.Time
}

// LoadState returns the persisted state for key. found is false when the
// key was never written.
func (s *Store) LoadState(ctx context.Context, key string) (accumulator.State, bool, error) {
	var (
		st   accumulator.State
		last sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT total_cost, last_energy FROM accumulator_state WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&st.TotalCost, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return accumulator.State{}, false, nil
	}
	if err != nil {
		return accumulator.State{}, false, fmt.Errorf("loading state %s: %w", key, err)
	}
	if last.Valid {
		v := last.Float64
		st.LastEnergy = &v
	}
	return st, true, nil
}

// SaveState writes the state for key, replacing any previous row.
func (s *Store) SaveState(ctx context.Context, key string, st accumulator.State) error {
	var last sql.NullFloat64
	if st.LastEnergy != nil {
		last = sql.NullFloat64{Float64: *st.LastEnergy, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO accumulator_state
		(namespace, key, version, total_cost, last_energy, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.namespace, key, Version, st.TotalCost, last, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving state %s: %w", key, err)
	}
	return nil
}

// ListStates returns every accumulator row in the namespace ordered by key.
func (s *Store) ListStates(ctx context.Context) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, total_cost, last_energy, updated_at
		FROM accumulator_state WHERE namespace = ? ORDER BY key`, s.namespace)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StateRecord
	for rows.Next() {
		var (
			rec     StateRecord
			last    sql.NullFloat64
			updated string
		)
		if err := rows.Scan(&rec.Key, &rec.State.TotalCost, &last, &updated); err != nil {
			return nil, err
		}
		if last.Valid {
			v := last.Float64
			rec.State.LastEnergy = &v
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}
