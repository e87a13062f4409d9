package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	s := NewService("test-secret", "form-service", "form-clients")

	tok, err := s.Issue(42)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	userID, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestVerifyExpiredToken(t *testing.T) {
	issued := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	s := NewService("test-secret", "form-service", "form-clients").
		WithClock(func() time.Time { return issued })

	tok, err := s.Issue(42)
	require.NoError(t, err)

	// Still valid just inside the 10 hour window
	s.WithClock(func() time.Time { return issued.Add(10*time.Hour - time.Minute) })
	_, err = s.Verify(tok)
	assert.NoError(t, err)

	s.WithClock(func() time.Time { return issued.Add(10*time.Hour + time.Minute) })
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	tok, err := NewService("right-secret", "form-service", "form-clients").Issue(1)
	require.NoError(t, err)

	_, err = NewService("wrong-secret", "form-service", "form-clients").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongIssuer(t *testing.T) {
	tok, err := NewService("secret", "someone-else", "form-clients").Issue(1)
	require.NoError(t, err)

	_, err = NewService("secret", "form-service", "form-clients").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongAudience(t *testing.T) {
	tok, err := NewService("secret", "form-service", "other-audience").Issue(1)
	require.NoError(t, err)

	_, err = NewService("secret", "form-service", "form-clients").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformedToken(t *testing.T) {
	s := NewService("secret", "form-service", "form-clients")

	for _, tok := range []string{"", "garbage", "a.b.c", "haofsi7yfa8ohfoahfa3784hfoa"} {
		_, err := s.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}
