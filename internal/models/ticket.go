package models

import "time"

type TicketKind string

const (
	TicketToken     TicketKind = "token"
	TicketExtension TicketKind = "extension"
)

// Ticket — одноразовая ссылка-прокладка: клиент видит только ID, RedirectURL отдаётся после гейта.
type Ticket struct {
	ID          string     `json:"id" db:"id"`
	OwnerUserID int64      `json:"owner_user_id" db:"owner_user_id"`
	Kind        TicketKind `json:"kind" db:"kind"`
	RedirectURL string     `json:"redirect_url" db:"redirect_url"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

func (t *Ticket) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && !now.Before(t.CreatedAt.Add(ttl))
}
