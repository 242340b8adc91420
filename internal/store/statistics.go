package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/theirongolddev/devcost/internal/model"
)

// StatisticsDuringPeriod returns the rows of statisticID whose start lies in
// [start, end), ordered by start. Only hourly statistics are kept.
func (s *Store) StatisticsDuringPeriod(
	ctx context.Context,
	statisticID string,
	start, end time.Time,
	period model.Period,
) ([]model.StatPoint, error) {
	if period != model.PeriodHour {
		return nil, fmt.Errorf("unsupported statistics period %q", period)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT s.start_ts, s.mean, s.sum, s.state
		FROM statistics s
		JOIN statistics_meta m ON m.id = s.metadata_id
		WHERE m.statistic_id = ? AND s.start_ts >= ? AND s.start_ts < ?
		ORDER BY s.start_ts`,
		statisticID, toTS(start), toTS(end),
	)
	if err != nil {
		return nil, fmt.Errorf("querying statistics %s: %w", statisticID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.StatPoint
	for rows.Next() {
		var (
			ts               float64
			mean, sum, state sql.NullFloat64
		)
		if err := rows.Scan(&ts, &mean, &sum, &state); err != nil {
			return nil, err
		}
		out = append(out, model.StatPoint{
			Start: fromTS(ts),
			Mean:  nullable(mean),
			Sum:   nullable(sum),
			State: nullable(state),
		})
	}
	return out, rows.Err()
}

// ImportStatistics records points as an externally sourced statistic.
// Metadata is upserted by statistic id and rows by start time, so a repeated
// import overwrites the earlier one.
func (s *Store) ImportStatistics(ctx context.Context, meta model.StatisticMetadata, points []model.StatPoint) error {
	if meta.StatisticID == "" {
		return errors.New("statistic id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO statistics_meta
		(statistic_id, source, unit_of_measurement, has_mean, has_sum, name)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(statistic_id) DO UPDATE SET
			source = excluded.source,
			unit_of_measurement = excluded.unit_of_measurement,
			has_mean = excluded.has_mean,
			has_sum = excluded.has_sum,
			name = excluded.name`,
		meta.StatisticID, meta.Source, meta.Unit, boolInt(meta.HasMean), boolInt(meta.HasSum), meta.Name,
	)
	if err != nil {
		return fmt.Errorf("upserting statistics metadata: %w", err)
	}

	var metaID int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM statistics_meta WHERE statistic_id = ?`, meta.StatisticID,
	).Scan(&metaID); err != nil {
		return fmt.Errorf("reading statistics metadata id: %w", err)
	}

	created := toTS(time.Now())
	for _, p := range points {
		_, err = tx.ExecContext(ctx, `INSERT INTO statistics
			(created_ts, metadata_id, start_ts, mean, state, sum)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(metadata_id, start_ts) DO UPDATE SET
				created_ts = excluded.created_ts,
				mean = excluded.mean,
				state = excluded.state,
				sum = excluded.sum`,
			created, metaID, toTS(p.Start), nullFloat(p.Mean), nullFloat(p.State), nullFloat(p.Sum),
		)
		if err != nil {
			return fmt.Errorf("inserting statistic at %s: %w", p.Start.UTC().Format(time.RFC3339), err)
		}
	}

	return tx.Commit()
}

// StatisticMetadata returns the metadata row for statisticID.
func (s *Store) StatisticMetadata(ctx context.Context, statisticID string) (model.StatisticMetadata, bool, error) {
	var (
		meta            model.StatisticMetadata
		unit, name      sql.NullString
		hasMean, hasSum int
	)
	err := s.db.QueryRowContext(ctx, `SELECT statistic_id, source, unit_of_measurement, has_mean, has_sum, name
		FROM statistics_meta WHERE statistic_id = ?`, statisticID,
	).Scan(&meta.StatisticID, &meta.Source, &unit, &hasMean, &hasSum, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StatisticMetadata{}, false, nil
	}
	if err != nil {
		return model.StatisticMetadata{}, false, err
	}
	meta.Unit = unit.String
	meta.Name = name.String
	meta.HasMean = hasMean != 0
	meta.HasSum = hasSum != 0
	return meta, true, nil
}

func toTS(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromTS(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
