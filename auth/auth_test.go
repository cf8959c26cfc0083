package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/griffonary/gameerr"
	"github.com/wfunc/griffonary/session"
)

func TestJWTResolver_RoundTrip(t *testing.T) {
	r, err := NewJWTResolver("s3cret")
	require.NoError(t, err)

	in := session.Player{ID: "p1", Name: "Alice", Role: session.RoleRegistered}
	token, err := r.Issue(in, time.Hour)
	require.NoError(t, err)

	out, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = r.Resolve("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJWTResolver_Rejects(t *testing.T) {
	r, err := NewJWTResolver("s3cret")
	require.NoError(t, err)
	other, err := NewJWTResolver("other")
	require.NoError(t, err)

	foreign, err := other.Issue(session.Player{ID: "p1"}, time.Hour)
	require.NoError(t, err)

	expired, err := r.Issue(session.Player{ID: "p1"}, time.Hour)
	require.NoError(t, err)
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "p1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"alg none", none},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.token)
			assert.ErrorIs(t, err, gameerr.ErrInvalidToken)
			assert.Equal(t, "auth", gameerr.Reason(err))
		})
	}
}

func TestJWTResolver_Defaults(t *testing.T) {
	r, err := NewJWTResolver("s3cret")
	require.NoError(t, err)

	token, err := r.Issue(session.Player{ID: "p2", Role: "superuser"}, time.Minute)
	require.NoError(t, err)

	p, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "p2", p.Name)
	assert.Equal(t, session.RoleGuest, p.Role)

	_, err = NewJWTResolver("")
	assert.ErrorIs(t, err, gameerr.ErrInvalid)
}
