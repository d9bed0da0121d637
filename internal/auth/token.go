package auth

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the "iss" claim of identity tokens.
const Issuer = "privy.io"

// Claims are the verified identity claims of a bearer token.
type Claims struct {
	Subject   string    `json:"sub"`
	SessionID string    `json:"sid"`
	AppID     string    `json:"aud"`
	ExpiresAt time.Time `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type tokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Verifier checks ES256 identity tokens issued for one application.
type Verifier struct {
	appID string
	key   *ecdsa.PublicKey
}

// NewVerifier parses the PEM encoded verification key of the identity
// provider.
func NewVerifier(appID, verificationKeyPEM string) (*Verifier, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, fmt.Errorf("app id is required")
	}
	// Keys pasted into env files often carry literal "\n" sequences.
	pem := strings.ReplaceAll(strings.TrimSpace(verificationKeyPEM), `\n`, "\n")
	key, err := jwt.ParseECPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse verification key: %w", err)
	}
	return &Verifier{appID: appID, key: key}, nil
}

func (v *Verifier) Verify(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(v.appID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		AppID:     v.appID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// HashToken is the cache key of a raw bearer token.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
