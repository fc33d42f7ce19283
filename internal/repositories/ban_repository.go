package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"tgflix/internal/models"
)

type BanRepository interface {
	Set(ctx context.Context, b *models.Ban) error
	Get(ctx context.Context, userID int64) (*models.Ban, error)
	Delete(ctx context.Context, userID int64) error
}

type banRepository struct {
	DB *sqlx.DB
}

func NewBanRepository(db *sqlx.DB) BanRepository {
	return &banRepository{DB: db}
}

func (r *banRepository) Set(ctx context.Context, b *models.Ban) error {
	const q = `
		INSERT INTO bans (user_id, banned_until, reason, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET banned_until = EXCLUDED.banned_until, reason = EXCLUDED.reason`
	_, err := r.DB.ExecContext(ctx, q, b.UserID, b.BannedUntil, b.Reason)
	return err
}

func (r *banRepository) Get(ctx context.Context, userID int64) (*models.Ban, error) {
	var b models.Ban
	err := r.DB.GetContext(ctx, &b, `SELECT user_id, banned_until, reason, created_at FROM bans WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *banRepository) Delete(ctx context.Context, userID int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM bans WHERE user_id = $1`, userID)
	return err
}
