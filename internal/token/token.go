package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// wrong issuer or audience, expired or malformed input. Callers must
// treat all of them uniformly as unauthenticated.
var ErrInvalidToken = errors.New("invalid token")

const validity = 10 * time.Hour

// Service issues and verifies stateless HMAC-SHA512 bearer tokens.
// There is no server-side session state and no revocation list.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewService initializes the token service. The secret must be
// validated as non-empty by the caller at startup.
func NewService(secret, issuer, audience string) *Service {
	return &Service{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// WithClock overrides the time source, used by tests to simulate expiry
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue signs a token for the given user, valid for 10 hours
func (s *Service) Issue(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.secret)
}

// Verify checks signature, issuer, audience and expiry, and resolves
// the token back to its user id. Any failure returns ErrInvalidToken.
func (s *Service) Verify(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}

	return userID, nil
}
