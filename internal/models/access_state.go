package models

import "time"

type StateKind int

const (
	StateUnverified StateKind = iota
	StateVerified
	StateBanned
)

func (k StateKind) String() string {
	switch k {
	case StateVerified:
		return "verified"
	case StateBanned:
		return "banned"
	default:
		return "unverified"
	}
}

// AccessState — явное состояние пользователя: Unverified | Verified{ExpiresAt} | Banned{Until}.
// Бан перекрывает всё остальное.
type AccessState struct {
	Kind      StateKind
	ExpiresAt time.Time
	Until     time.Time
}

func Unverified() AccessState { return AccessState{Kind: StateUnverified} }

func Verified(expiresAt time.Time) AccessState {
	return AccessState{Kind: StateVerified, ExpiresAt: expiresAt}
}

func Banned(until time.Time) AccessState { return AccessState{Kind: StateBanned, Until: until} }

// StateOf сводит поля записи и бан к одному состоянию.
func StateOf(u *User, ban *Ban, timeout time.Duration, now time.Time) AccessState {
	if ban != nil && ban.Active(now) {
		return Banned(ban.BannedUntil)
	}
	if u == nil || u.Status != UserVerified || u.VerifiedAt.IsZero() {
		return Unverified()
	}
	exp := u.VerifiedAt.Add(timeout)
	if !now.Before(exp) {
		return Unverified()
	}
	return Verified(exp)
}
