package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"tgflix/internal/models"
)

type FingerprintRepository interface {
	FindMatch(ctx context.Context, q models.FingerprintQuery) (*models.Fingerprint, error)
	FindByMessageID(ctx context.Context, messageID int) (*models.Fingerprint, error)
	FindBy(ctx context.Context, field models.FingerprintField, value string) ([]*models.Fingerprint, error)
	Insert(ctx context.Context, f *models.Fingerprint) error
	DeleteBy(ctx context.Context, field models.FingerprintField, value string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

type fingerprintRepository struct {
	DB *sqlx.DB
}

func NewFingerprintRepository(db *sqlx.DB) FingerprintRepository {
	return &fingerprintRepository{DB: db}
}

const fingerprintColumns = `unique_id, message_id, caption, hash_start, hash_middle, hash_end,
	file_size, file_name, duration, created_at`

func (r *fingerprintRepository) FindMatch(ctx context.Context, q models.FingerprintQuery) (*models.Fingerprint, error) {
	var (
		ors  []string
		args []any
	)
	if q.UniqueID != "" {
		args = append(args, q.UniqueID)
		ors = append(ors, fmt.Sprintf("unique_id = $%d", len(args)))
	}
	if q.Caption != "" {
		args = append(args, q.Caption)
		ors = append(ors, fmt.Sprintf("caption = $%d", len(args)))
	}
	if q.HashStart != "" {
		args = append(args, q.HashStart)
		ors = append(ors, fmt.Sprintf("hash_start = $%d", len(args)))
	}
	if q.WithMeta {
		args = append(args, q.FileSize, q.FileName, q.Duration)
		n := len(args)
		ors = append(ors, fmt.Sprintf("(file_size = $%d AND file_name = $%d AND duration = $%d)", n-2, n-1, n))
	}
	if len(ors) == 0 {
		return nil, nil
	}
	sqlq := `SELECT ` + fingerprintColumns + ` FROM fingerprints WHERE ` + strings.Join(ors, " OR ") + ` LIMIT 1`

	var f models.Fingerprint
	err := r.DB.GetContext(ctx, &f, sqlq, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *fingerprintRepository) FindByMessageID(ctx context.Context, messageID int) (*models.Fingerprint, error) {
	var f models.Fingerprint
	err := r.DB.GetContext(ctx, &f, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE message_id = $1 LIMIT 1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func fingerprintColumn(field models.FingerprintField) (string, error) {
	switch field {
	case models.FPUniqueID, models.FPHashStart, models.FPHashMiddle, models.FPHashEnd,
		models.FPFileName, models.FPCaption:
		return string(field), nil
	case models.FPFileSize:
		return "file_size::text", nil
	}
	return "", fmt.Errorf("unknown fingerprint field %q", field)
}

func (r *fingerprintRepository) FindBy(ctx context.Context, field models.FingerprintField, value string) ([]*models.Fingerprint, error) {
	col, err := fingerprintColumn(field)
	if err != nil {
		return nil, err
	}
	var out []*models.Fingerprint
	q := fmt.Sprintf(`SELECT %s FROM fingerprints WHERE %s = $1`, fingerprintColumns, col)
	if err := r.DB.SelectContext(ctx, &out, q, value); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fingerprintRepository) Insert(ctx context.Context, f *models.Fingerprint) error {
	const q = `
		INSERT INTO fingerprints (
			unique_id, message_id, caption, hash_start, hash_middle, hash_end,
			file_size, file_name, duration, created_at
		)
		VALUES (:unique_id, :message_id, :caption, :hash_start, :hash_middle, :hash_end,
			:file_size, :file_name, :duration, now())
		ON CONFLICT (unique_id) DO NOTHING`
	_, err := r.DB.NamedExecContext(ctx, q, f)
	return err
}

func (r *fingerprintRepository) DeleteBy(ctx context.Context, field models.FingerprintField, value string) (int64, error) {
	col, err := fingerprintColumn(field)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM fingerprints WHERE %s = $1`, col), value)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *fingerprintRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM fingerprints`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *fingerprintRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM fingerprints`)
	return n, err
}
