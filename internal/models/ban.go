package models

import "time"

type Ban struct {
	UserID      int64     `json:"user_id" db:"user_id"`
	BannedUntil time.Time `json:"banned_until" db:"banned_until"`
	Reason      string    `json:"reason" db:"reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

func (b *Ban) Active(now time.Time) bool {
	return b != nil && now.Before(b.BannedUntil)
}
