package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errStateExpired = errors.New("oidc state: expired")
	errStateInvalid = errors.New("oidc state: invalid")
)

const stateAudience = "authcore-oidc-state"

// StateCodec signs and verifies the state parameter carried through an
// external login redirect.
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// StatePayload captures data required to validate the callback and resume the login flow.
type StatePayload struct {
	Provider  string `json:"p"`
	ReturnURL string `json:"r,omitempty"`
	Nonce     string `json:"n"`
	Binding   string `json:"b"` // SHA-256 of the PKCE verifier held in the browser cookie
}

type stateClaims struct {
	StatePayload
	jwt.RegisteredClaims
}

// NewStateCodec constructs a StateCodec using the provided signing key and lifetime.
func NewStateCodec(key []byte, ttl time.Duration, now func() time.Time) (*StateCodec, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("oidc state: key must be at least 16 bytes, got %d", len(key))
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &StateCodec{
		key: key,
		ttl: ttl,
		now: now,
	}, nil
}

// Encode signs payload into a compact state string.
func (c *StateCodec) Encode(payload StatePayload) (string, error) {
	payload.Provider = strings.ToLower(strings.TrimSpace(payload.Provider))
	if payload.Provider == "" {
		return "", errors.New("oidc state: provider is required")
	}

	issued := c.now()
	claims := stateClaims{
		StatePayload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("oidc state: sign payload: %w", err)
	}
	return signed, nil
}

// Decode verifies the state string and returns its payload while enforcing expiry.
func (c *StateCodec) Decode(token string) (StatePayload, error) {
	if strings.TrimSpace(token) == "" {
		return StatePayload{}, errStateInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	var claims stateClaims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return StatePayload{}, errStateExpired
		}
		return StatePayload{}, errStateInvalid
	}

	if claims.Provider == "" || claims.Nonce == "" {
		return StatePayload{}, errStateInvalid
	}
	return claims.StatePayload, nil
}
