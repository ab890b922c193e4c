// Package auth verifies the bearer tokens that carry a caller's handle and
// hands the resulting identity to request handlers through the context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKey   = errors.New("unknown signing key")
	ErrNoHandle     = errors.New("token carries no handle")
)

// JWTManager signs and validates JWT tokens used by the API.
type JWTManager struct {
	keys      map[string][]byte // kid -> HMAC secret
	activeKid string            // kid new tokens are signed with; "" for single-secret mode
	duration  time.Duration
}

// Claims is the custom JWT payload.
type Claims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Identity returns the caller the token was issued to.
func (c *Claims) Identity() data.Identity {
	return data.NewIdentity(c.Handle)
}

// NewJWTManager returns a manager that signs and verifies with one secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string][]byte{"": []byte(secretKey)},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with activeKid and
// verifies tokens signed by any of keys, selected by the token's kid header.
// Retired keys stay in the map until every token they signed has expired.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	m := &JWTManager{keys: make(map[string][]byte, len(keys)), activeKid: activeKid, duration: duration}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
	}
	return m
}

// GenerateToken issues a signed token for handle.
func (m *JWTManager) GenerateToken(handle string) (string, time.Time, error) {
	h := normalize.Handle(handle)
	if h == "" {
		return "", time.Time{}, ErrNoHandle
	}
	key, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: active kid %q", ErrUnknownKey, m.activeKid)
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)
	claims := &Claims{
		Handle: h,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   h,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFor,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims.Handle = normalize.Handle(claims.Handle)
	if claims.Handle == "" {
		return nil, ErrNoHandle
	}
	return claims, nil
}

func (m *JWTManager) keyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = m.activeKid
	}
	key, ok := m.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
	}
	return key, nil
}

type identityKey struct{}

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, id data.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (data.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(data.Identity)
	return id, ok && id.Handle != ""
}
