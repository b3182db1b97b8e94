package auth

import (
	"errors"

	"dealerhub-realtime-svc/src/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// hmacClaims is the token shape issued by the platform's own auth service.
type hmacClaims struct {
	UserSub   string `json:"userSub"`
	Email     string `json:"email"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier verifies HS256/384/512 tokens signed with secret.
func NewHMACVerifier(secret string) Verifier {
	return &hmacVerifier{secret: []byte(secret)}
}

func (v *hmacVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, models.ErrTokenMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &hmacClaims{}, func(token *jwt.Token) (interface{}, error) {
		//verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*hmacClaims)
	if !ok || !token.Valid {
		return nil, models.ErrInvalidToken
	}

	// Check token type (should be access token)
	if claims.TokenType != "" && claims.TokenType != "access" {
		return nil, models.ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserSub
	}
	if subject == "" {
		return nil, models.ErrInvalidToken
	}

	return &Claims{
		Subject:  subject,
		Email:    claims.Email,
		TokenUse: "access",
	}, nil
}
