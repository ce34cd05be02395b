package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundtrip(t *testing.T) {
	j := NewJWT("secret")

	token, err := j.Issue(17, time.Hour)
	require.NoError(t, err)

	userID, err := j.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 17, userID)
}

func TestJWTRejects(t *testing.T) {
	j := NewJWT("secret")
	other := NewJWT("other-secret")

	foreign, err := other.Issue(1, time.Hour)
	require.NoError(t, err)

	expired, err := j.Issue(1, -time.Minute)
	require.NoError(t, err)

	noUser, err := j.Issue(0, time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"foreign key":  foreign,
		"expired":      expired,
		"missing user": noUser,
		"alg none":     unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := j.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestSubjectReadsUnverifiedClaims(t *testing.T) {
	token, err := NewJWT("any-secret").Issue(42, time.Hour)
	require.NoError(t, err)

	id, err := Subject(token)
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, err = Subject("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
