package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidPass = errors.New("invalid or expired pass")

// PassClaims — пропуск гейта: subject = id тикета.
type PassClaims struct {
	jwt.RegisteredClaims
}

// IssuePass подписывает короткоживущий пропуск для тикета (HS256).
func IssuePass(secret []byte, ticketID string, ttl time.Duration, now time.Time) (string, error) {
	claims := PassClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   ticketID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyPass проверяет подпись, срок и привязку к тикету.
func VerifyPass(secret []byte, pass, ticketID string, now time.Time) error {
	pass = strings.TrimSpace(pass)
	if pass == "" {
		return ErrInvalidPass
	}
	claims := &PassClaims{}
	token, err := jwt.ParseWithClaims(pass, claims, func(token *jwt.Token) (interface{}, error) {
		// принимаем только HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !token.Valid {
		return ErrInvalidPass
	}
	if claims.Subject != ticketID {
		return ErrInvalidPass
	}
	return nil
}

// RequirePass — GET /verify/:id?pass=... без валидного пропуска не пускаем.
func RequirePass(secret []byte, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := VerifyPass(secret, c.Query("pass"), c.Param("id"), now()); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired pass"})
			return
		}
		c.Next()
	}
}
