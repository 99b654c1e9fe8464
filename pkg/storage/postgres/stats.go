package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kart-io/smsforward/pkg/logger"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/stats"
)

const statsColumns = `date, total_received, total_forwarded, total_failed, total_ignored, average_processing_time, processing_samples, success_rate`

const (
	getStatsSQL = `SELECT ` + statsColumns + ` FROM forward_statistics WHERE date = $1`
	putStatsSQL = `INSERT INTO forward_statistics (` + statsColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (date) DO UPDATE SET total_received = EXCLUDED.total_received, total_forwarded = EXCLUDED.total_forwarded,
total_failed = EXCLUDED.total_failed, total_ignored = EXCLUDED.total_ignored,
average_processing_time = EXCLUDED.average_processing_time, processing_samples = EXCLUDED.processing_samples,
success_rate = EXCLUDED.success_rate`
	rangeStatsSQL  = `SELECT ` + statsColumns + ` FROM forward_statistics WHERE date >= $1 AND date <= $2 ORDER BY date ASC`
	deleteStatsSQL = `DELETE FROM forward_statistics WHERE date < $1`
)

// StatsRepository is a stats.Store on PostgreSQL. Dates are stored as
// model.DateLayout text so they compare lexically.
type StatsRepository struct {
	db     DB
	logger logger.Logger
}

var _ stats.Store = (*StatsRepository)(nil)

func NewStatsRepository(db DB, log logger.Logger) *StatsRepository {
	return &StatsRepository{db: db, logger: logger.OrDiscard(log)}
}

func (r *StatsRepository) Get(ctx context.Context, date string) (model.ForwardStatistics, error) {
	s, err := scanStats(r.db.QueryRow(ctx, getStatsSQL, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ForwardStatistics{}, stats.ErrNotFound
	}
	if err != nil {
		return model.ForwardStatistics{}, fmt.Errorf("get statistics %s: %w", date, err)
	}
	return s, nil
}

func (r *StatsRepository) Put(ctx context.Context, s model.ForwardStatistics) error {
	_, err := r.db.Exec(ctx, putStatsSQL,
		s.Date, s.TotalReceived, s.TotalForwarded, s.TotalFailed, s.TotalIgnored,
		s.AverageProcessingTime, s.ProcessingSamples, s.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("put statistics %s: %w", s.Date, err)
	}
	return nil
}

func (r *StatsRepository) Range(ctx context.Context, from, to string) ([]model.ForwardStatistics, error) {
	rows, err := r.db.Query(ctx, rangeStatsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("range statistics: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ForwardStatistics, error) {
		return scanStats(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan statistics: %w", err)
	}
	return out, nil
}

func (r *StatsRepository) DeleteOlderThan(ctx context.Context, date string) (int64, error) {
	tag, err := r.db.Exec(ctx, deleteStatsSQL, date)
	if err != nil {
		return 0, fmt.Errorf("delete statistics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanStats(row pgx.Row) (model.ForwardStatistics, error) {
	var s model.ForwardStatistics
	err := row.Scan(&s.Date, &s.TotalReceived, &s.TotalForwarded, &s.TotalFailed, &s.TotalIgnored,
		&s.AverageProcessingTime, &s.ProcessingSamples, &s.SuccessRate)
	return s, err
}
