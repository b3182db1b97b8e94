package auth

import (
	"errors"
	"strings"

	"dealerhub-realtime-svc/src/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified identity carried by an access token.
type Claims struct {
	Subject  string
	Email    string
	TokenUse string
}

// Verifier checks a bearer token's signature and expiry and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header value, or "" if the header is malformed.
func ExtractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapParseError(err error) error {
	// JWT library automatically checks expiration
	if errors.Is(err, jwt.ErrTokenExpired) {
		return models.ErrTokenExpired
	}
	return models.ErrInvalidToken
}
