package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"tgflix/internal/models"
)

type UserRepository interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	// Create вставляет запись, если её нет. Возвращает true, если запись создана.
	Create(ctx context.Context, u *models.User) (bool, error)
	Save(ctx context.Context, u *models.User) error
	Increment(ctx context.Context, id int64, field models.UserField, delta int) (int, error)
	Delete(ctx context.Context, id int64) error
	ListIDs(ctx context.Context) ([]int64, error)
	Find(ctx context.Context, f models.UserFilter) ([]*models.User, error)
	BulkDelete(ctx context.Context, ids []int64) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type userRepository struct {
	DB *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{DB: db}
}

// userRow — nullable-колонки сканируем через sql.Null*.
type userRow struct {
	ID                int64          `db:"id"`
	TokenHash         string         `db:"token_hash"`
	IssuedAt          sql.NullTime   `db:"issued_at"`
	VerifiedAt        sql.NullTime   `db:"verified_at"`
	Status            string         `db:"status"`
	FileCount         int            `db:"file_count"`
	ExtensionStage    int            `db:"extension_stage"`
	BypassAttempts    int            `db:"bypass_attempts"`
	LowQuotaWarned    bool           `db:"low_quota_warned"`
	TargetChannelID   int64          `db:"target_channel_id"`
	TargetChannelName sql.NullString `db:"target_channel_name"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r userRow) toModel() *models.User {
	u := &models.User{
		ID:              r.ID,
		TokenHash:       r.TokenHash,
		Status:          models.UserStatus(r.Status),
		FileCount:       r.FileCount,
		ExtensionStage:  r.ExtensionStage,
		BypassAttempts:  r.BypassAttempts,
		LowQuotaWarned:  r.LowQuotaWarned,
		TargetChannelID: r.TargetChannelID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.IssuedAt.Valid {
		u.IssuedAt = r.IssuedAt.Time
	}
	if r.VerifiedAt.Valid {
		u.VerifiedAt = r.VerifiedAt.Time
	}
	if r.TargetChannelName.Valid {
		u.TargetChannelName = r.TargetChannelName.String
	}
	return u
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

const userColumns = `id, token_hash, issued_at, verified_at, status, file_count, extension_stage,
	bypass_attempts, low_quota_warned, target_channel_id, target_channel_name, created_at, updated_at`

func (r *userRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	var row userRow
	err := r.DB.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (r *userRepository) Create(ctx context.Context, u *models.User) (bool, error) {
	const q = `
		INSERT INTO users (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING`
	if u.Status == "" {
		u.Status = models.UserUnverified
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := r.DB.ExecContext(ctx, q, u.ID, string(u.Status), u.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *userRepository) Save(ctx context.Context, u *models.User) error {
	const q = `
		INSERT INTO users (
			id, token_hash, issued_at, verified_at, status, file_count, extension_stage,
			bypass_attempts, low_quota_warned, target_channel_id, target_channel_name, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (id) DO UPDATE SET
			token_hash=EXCLUDED.token_hash,
			issued_at=EXCLUDED.issued_at,
			verified_at=EXCLUDED.verified_at,
			status=EXCLUDED.status,
			file_count=EXCLUDED.file_count,
			extension_stage=EXCLUDED.extension_stage,
			bypass_attempts=EXCLUDED.bypass_attempts,
			low_quota_warned=EXCLUDED.low_quota_warned,
			target_channel_id=EXCLUDED.target_channel_id,
			target_channel_name=EXCLUDED.target_channel_name,
			updated_at=now()`
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, q,
		u.ID,
		u.TokenHash,
		nullTime(u.IssuedAt),
		nullTime(u.VerifiedAt),
		string(u.Status),
		u.FileCount,
		u.ExtensionStage,
		u.BypassAttempts,
		u.LowQuotaWarned,
		u.TargetChannelID,
		u.TargetChannelName,
		created,
	)
	return err
}

func userFieldColumn(f models.UserField) (string, error) {
	switch f {
	case models.FieldFileCount, models.FieldBypassAttempts:
		return string(f), nil
	}
	return "", fmt.Errorf("unknown user field %q", f)
}

func (r *userRepository) Increment(ctx context.Context, id int64, field models.UserField, delta int) (int, error) {
	col, err := userFieldColumn(field)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE users SET %[1]s = %[1]s + $2, updated_at = now() WHERE id = $1 RETURNING %[1]s`, col)
	var v int
	err = r.DB.QueryRowxContext(ctx, q, id, delta).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	return v, err
}

func (r *userRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *userRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.DB.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *userRepository) Find(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.VerifiedBefore != nil {
		args = append(args, *f.VerifiedBefore)
		where = append(where, fmt.Sprintf("verified_at < $%d", len(args)))
	}
	if f.ActiveBefore != nil {
		args = append(args, *f.ActiveBefore)
		where = append(where, fmt.Sprintf("COALESCE(issued_at, created_at) < $%d", len(args)))
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []userRow
	if err := r.DB.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *userRepository) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *userRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM users`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`)
	return n, err
}
