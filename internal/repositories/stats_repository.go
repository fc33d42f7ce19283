package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"tgflix/internal/models"
)

type StatsRepository interface {
	Get(ctx context.Context) (*models.DailyStats, error)
	Increment(ctx context.Context, counter string) error
	// Decrement откатывает Increment, не опускаясь ниже нуля.
	Decrement(ctx context.Context, counter string) error
	// ResetIfStale обнуляет счётчики, если last_reset_date != date. true — сброс произошёл.
	ResetIfStale(ctx context.Context, date string) (bool, error)
}

type statsRepository struct {
	DB *sqlx.DB
}

func NewStatsRepository(db *sqlx.DB) StatsRepository {
	return &statsRepository{DB: db}
}

func statsColumn(counter string) (string, error) {
	switch counter {
	case models.CounterVerifiedToday, models.CounterFilesSharedToday:
		return counter, nil
	}
	return "", fmt.Errorf("unknown counter %q", counter)
}

func (r *statsRepository) Get(ctx context.Context) (*models.DailyStats, error) {
	var s models.DailyStats
	err := r.DB.GetContext(ctx, &s, `SELECT verified_today, files_shared_today, last_reset_date FROM daily_stats WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.DailyStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *statsRepository) Increment(ctx context.Context, counter string) error {
	col, err := statsColumn(counter)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`
		INSERT INTO daily_stats (id, %[1]s) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET %[1]s = daily_stats.%[1]s + 1`, col)
	_, err = r.DB.ExecContext(ctx, q)
	return err
}

func (r *statsRepository) Decrement(ctx context.Context, counter string) error {
	col, err := statsColumn(counter)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE daily_stats SET %[1]s = GREATEST(%[1]s - 1, 0) WHERE id = 1`, col)
	_, err = r.DB.ExecContext(ctx, q)
	return err
}

func (r *statsRepository) ResetIfStale(ctx context.Context, date string) (bool, error) {
	const q = `
		INSERT INTO daily_stats (id, verified_today, files_shared_today, last_reset_date)
		VALUES (1, 0, 0, $1)
		ON CONFLICT (id) DO UPDATE SET verified_today = 0, files_shared_today = 0, last_reset_date = $1
		WHERE daily_stats.last_reset_date <> $1`
	res, err := r.DB.ExecContext(ctx, q, date)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
