package auth

import (
	"context"
	"fmt"
	"time"

	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type cognitoClaims struct {
	jwt.RegisteredClaims
	TokenUse string `json:"token_use"`
	ClientID string `json:"client_id"`
	Email    string `json:"email"`
}

// CognitoVerifier validates Cognito user pool tokens against the pool JWKS.
type CognitoVerifier struct {
	jwks     *keyfunc.JWKS
	issuer   string
	clientID string
}

func cognitoIssuer(cfg *config.Cognito) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
}

// NewCognitoVerifier fetches the pool JWKS, retrying while the endpoint is
// unreachable, and keeps it refreshed in the background until ctx ends.
func NewCognitoVerifier(ctx context.Context, cfg *config.Cognito) (*CognitoVerifier, error) {
	issuer := cognitoIssuer(cfg)
	jwksURL := issuer + "/.well-known/jwks.json"

	logrus.WithField("jwks_url", jwksURL).Info("Initializing Cognito JWKS verifier")

	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logrus.WithError(err).Error("JWKS refresh error")
			},
		})
		if err == nil {
			break
		}
		logrus.WithError(err).WithField("attempt", attempt).Warn("Waiting for Cognito JWKS")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Cognito JWKS after retries: %w", err)
	}

	return &CognitoVerifier{
		jwks:     jwks,
		issuer:   issuer,
		clientID: cfg.ClientID,
	}, nil
}

func (v *CognitoVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, models.ErrTokenMissing
	}

	claims := &cognitoClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrInvalidToken
	}

	switch claims.TokenUse {
	case "access":
		if v.clientID != "" && claims.ClientID != v.clientID {
			return nil, models.ErrInvalidToken
		}
	case "id":
		if v.clientID != "" && !audienceContains(claims.Audience, v.clientID) {
			return nil, models.ErrInvalidToken
		}
	default:
		return nil, models.ErrInvalidToken
	}

	return &Claims{
		Subject:  claims.Subject,
		Email:    claims.Email,
		TokenUse: claims.TokenUse,
	}, nil
}

func (v *CognitoVerifier) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
