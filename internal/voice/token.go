package voice

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims identifies the entity/user pair a minted voice
// session token authorizes a WebSocket connection to join.
type SessionClaims struct {
	EntityID string `json:"entity_id"`
	UserID   string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates short-lived tokens a voice provider
// presents on connect, so the reference WebSocket provider never
// trusts connection parameters supplied by the client alone.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer builds a TokenIssuer with the given signing secret
// and token lifetime.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// Issue mints a signed token scoping a connection to entityID/userID.
func (t *TokenIssuer) Issue(entityID, userID string) (string, error) {
	if t == nil || len(t.secret) == 0 {
		return "", errors.New("voice: token issuer has no secret configured")
	}
	if strings.TrimSpace(entityID) == "" || strings.TrimSpace(userID) == "" {
		return "", errors.New("voice: entity id and user id are required")
	}
	claims := SessionClaims{
		EntityID: entityID,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses a token minted by Issue and returns its claims.
func (t *TokenIssuer) Validate(token string) (*SessionClaims, error) {
	if t == nil || len(t.secret) == 0 {
		return nil, errors.New("voice: token issuer has no secret configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("voice: unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("voice: invalid token")
	}
	if claims.EntityID == "" || claims.UserID == "" {
		return nil, errors.New("voice: invalid token")
	}
	return claims, nil
}
