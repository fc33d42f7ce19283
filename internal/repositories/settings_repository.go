package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"tgflix/internal/models"
)

type SettingsRepository interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type settingsRepository struct {
	DB *sqlx.DB
}

func NewSettingsRepository(db *sqlx.DB) SettingsRepository {
	return &settingsRepository{DB: db}
}

func (r *settingsRepository) All(ctx context.Context) (map[string]string, error) {
	var rows []models.Setting
	if err := r.DB.SelectContext(ctx, &rows, `SELECT key, value, updated_at FROM settings`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, s := range rows {
		out[s.Key] = s.Value
	}
	return out, nil
}

func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := r.DB.ExecContext(ctx, q, key, value)
	return err
}
