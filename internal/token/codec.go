package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned when the input cannot be parsed as a token.
	ErrMalformed = errors.New("malformed token")
	// ErrTampered is returned when the seal does not match the payload.
	ErrTampered = errors.New("tampered token")
	// ErrExpired is returned when the token is older than the allowed TTL.
	ErrExpired = errors.New("expired token")
)

// Token is an issued, sealed credential for a slot.
type Token struct {
	ID       string
	Slot     string
	IssuedAt time.Time
	Raw      string
}

// Claims is the sealed payload.
type Claims struct {
	Slot string `json:"slot"`
	jwt.RegisteredClaims
}

// Codec issues and verifies slot tokens signed with HS256.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the wall clock, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec builds a codec sealing tokens with secret.
func NewCodec(secret, issuer string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	c := &Codec{key: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue seals slot together with the current time.
func (c *Codec) Issue(slot string) (Token, error) {
	if strings.TrimSpace(slot) == "" {
		return Token{}, errors.New("slot required")
	}
	issuedAt := c.now().UTC().Truncate(time.Second)
	id := uuid.NewString()
	claims := Claims{
		Slot: slot,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       id,
			Issuer:   c.issuer,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return Token{}, err
	}
	return Token{ID: id, Slot: slot, IssuedAt: issuedAt, Raw: raw}, nil
}

// Verify checks the seal and age of raw and returns the decoded token.
// Age is counted in whole seconds on both sides, so a token stays valid for
// any check time up to ttl after its issue.
func (c *Codec) Verify(raw string, ttl time.Duration) (Token, error) {
	if raw == "" {
		return Token{}, ErrMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Token{}, ErrMalformed
		}
		return Token{}, ErrTampered
	}
	if !parsed.Valid || claims.IssuedAt == nil || claims.Slot == "" {
		return Token{}, ErrTampered
	}

	issuedAt := claims.IssuedAt.Time.UTC()
	if c.now().UTC().Truncate(time.Second).Sub(issuedAt) > ttl {
		return Token{}, ErrExpired
	}
	return Token{ID: claims.ID, Slot: claims.Slot, IssuedAt: issuedAt, Raw: raw}, nil
}
