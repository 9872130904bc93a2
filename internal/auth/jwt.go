package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/healthdash/backend/internal/models"
)

const issuer = "healthdash"

var ErrInvalidToken = errors.New("invalid session token")

// Claims carry the identity snapshot of a session. The token expires together
// with the session it represents.
type Claims struct {
	Identity models.Identity `json:"identity"`
	jwt.RegisteredClaims
}

// Session rebuilds the session carried by the token.
func (c *Claims) Session() models.Session {
	var expiresAt time.Time
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time.UTC()
	}
	return models.Session{Identity: c.Identity, ExpiresAt: expiresAt}
}

// GenerateSessionToken signs a session as an HS256 JWT.
func GenerateSessionToken(secret string, s models.Session, now time.Time) (string, error) {
	if s.ExpiresAt.IsZero() {
		return "", fmt.Errorf("session without expiry")
	}

	claims := Claims{
		Identity: s.Identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(s.Identity.ID, 10),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates signature and expiry at the given instant.
func ParseSessionToken(secret, tokenStr string, now time.Time) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !models.IsValidRole(claims.Identity.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Identity.Role)
	}
	return claims, nil
}
