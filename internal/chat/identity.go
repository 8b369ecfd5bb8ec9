package chat

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var userIDClaims = []string{
	"sub",
	"nameid",
	"userId",
	"uid",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
}

// UserIDFromToken reads the local user id from a bearer token's claims. The
// signature is not checked; the backend does that when the token is used.
func UserIDFromToken(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("chat: parse token: %w", err)
	}
	if id := UserIDFromClaims(claims); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("chat: token carries no user id claim")
}

// UserIDFromClaims returns the first non-empty user id claim, or "".
func UserIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range userIDClaims {
		switch v := claims[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
