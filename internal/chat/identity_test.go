package chat

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestUserIDFromToken(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"sub", jwt.MapClaims{"sub": "u-1"}, "u-1"},
		{"nameid", jwt.MapClaims{"nameid": "u-2"}, "u-2"},
		{"dotnet", jwt.MapClaims{"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier": "u-3"}, "u-3"},
		{"numeric", jwt.MapClaims{"userId": float64(42)}, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := UserIDFromToken(signed(t, tc.claims))
			require.NoError(t, err)
			assert.Equal(t, tc.want, id)
		})
	}
}

func TestUserIDFromTokenBearerPrefix(t *testing.T) {
	id, err := UserIDFromToken("Bearer " + signed(t, jwt.MapClaims{"sub": "u-1"}))
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
}

func TestUserIDFromTokenErrors(t *testing.T) {
	_, err := UserIDFromToken("opaque-token")
	assert.Error(t, err)

	_, err = UserIDFromToken(signed(t, jwt.MapClaims{"role": "admin"}))
	assert.Error(t, err)
}
