package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"tgflix/internal/models"
)

// TicketRepository — одноразовые тикеты гейта. Get и Consume возвращают nil, nil,
// если тикета нет или он старше TTL.
type TicketRepository interface {
	Create(ctx context.Context, t *models.Ticket) error
	Get(ctx context.Context, id string) (*models.Ticket, error)
	Consume(ctx context.Context, id string) (*models.Ticket, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

type ticketRepository struct {
	DB  *sqlx.DB
	TTL time.Duration
	now func() time.Time
}

func NewTicketRepository(db *sqlx.DB, ttl time.Duration) TicketRepository {
	return &ticketRepository{DB: db, TTL: ttl, now: time.Now}
}

func (r *ticketRepository) Create(ctx context.Context, t *models.Ticket) error {
	const q = `INSERT INTO tickets (id, owner_user_id, kind, redirect_url, created_at) VALUES ($1,$2,$3,$4,$5)`
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	_, err := r.DB.ExecContext(ctx, q, t.ID, t.OwnerUserID, string(t.Kind), t.RedirectURL, t.CreatedAt)
	return err
}

func (r *ticketRepository) Get(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := r.DB.GetContext(ctx, &t, `SELECT id, owner_user_id, kind, redirect_url, created_at FROM tickets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.Expired(r.TTL, r.now()) {
		return nil, nil
	}
	return &t, nil
}

// Consume — чтение и удаление одним запросом.
func (r *ticketRepository) Consume(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := r.DB.GetContext(ctx, &t,
		`DELETE FROM tickets WHERE id = $1 RETURNING id, owner_user_id, kind, redirect_url, created_at`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.Expired(r.TTL, r.now()) {
		return nil, nil
	}
	return &t, nil
}

func (r *ticketRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tickets WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
