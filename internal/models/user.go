package models

import "time"

type UserStatus string

const (
	UserUnverified UserStatus = "unverified"
	UserVerified   UserStatus = "verified"
)

// User — запись пользователя бота. Сырой токен не хранится, только bcrypt-хэш.
type User struct {
	ID                int64      `json:"id" db:"id"`
	TokenHash         string     `json:"-" db:"token_hash"`
	IssuedAt          time.Time  `json:"issued_at" db:"issued_at"`
	VerifiedAt        time.Time  `json:"verified_at" db:"verified_at"`
	Status            UserStatus `json:"status" db:"status"`
	FileCount         int        `json:"file_count" db:"file_count"`
	ExtensionStage    int        `json:"extension_stage" db:"extension_stage"`
	BypassAttempts    int        `json:"bypass_attempts" db:"bypass_attempts"`
	LowQuotaWarned    bool       `json:"low_quota_warned" db:"low_quota_warned"`
	TargetChannelID   int64      `json:"target_channel_id" db:"target_channel_id"`
	TargetChannelName string     `json:"target_channel_name" db:"target_channel_name"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// LastActivity — момент последнего челленджа, либо создания записи.
func (u *User) LastActivity() time.Time {
	if !u.IssuedAt.IsZero() {
		return u.IssuedAt
	}
	return u.CreatedAt
}

// Clone нужен кэшу: наружу отдаём копию, а не общий указатель.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// UserField — счётчики, которые инкрементируются атомарно на стороне хранилища.
type UserField string

const (
	FieldFileCount      UserField = "file_count"
	FieldBypassAttempts UserField = "bypass_attempts"
)

// UserFilter — параметры выборки для фоновых проходов.
type UserFilter struct {
	Status         *UserStatus
	VerifiedBefore *time.Time
	ActiveBefore   *time.Time // IssuedAt (или CreatedAt) раньше
	Limit          int
}
