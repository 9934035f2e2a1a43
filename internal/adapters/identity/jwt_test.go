package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantmedia/pulpit/internal/core"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	token, err := v.Issue("user-42", "Ana")
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.Subject)
	assert.Equal(t, "Ana", p.Name)
}

func TestVerifyNameFallsBackToSubject(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	token, err := v.Issue("user-42", "")
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.Name)
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)

	t.Run("empty credential", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "")
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})

	t.Run("garbage credential", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "not.a.token")
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewVerifier("other-secret", time.Hour)
		token, err := other.Issue("user-42", "Ana")
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := NewVerifier("test-secret", -time.Minute)
		token, err := expired.Issue("user-42", "Ana")
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, core.ErrConnectionRejected)
	})
}
