package utils

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

// NewAccessToken — opaque токен пользователя (uuid v4).
func NewAccessToken() string {
	return uuid.NewString()
}

// NewTicketID — сортируемый по времени id тикета гейта.
func NewTicketID() string {
	return ksuid.New().String()
}

func HashToken(token string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// TokenMatches — пустой хэш или пустой токен никогда не совпадают.
func TokenMatches(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
