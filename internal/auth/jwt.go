package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator verifies identity assertions and returns the identity they carry.
type JWTValidator struct {
	alg    string
	secret []byte
	pub    *rsa.PublicKey
	claim  string
}

// NewJWTValidatorHS256 verifies tokens signed with a shared secret.
func NewJWTValidatorHS256(secret, claim string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret is empty")
	}
	return &JWTValidator{alg: "HS256", secret: []byte(secret), claim: claimOrDefault(claim)}, nil
}

// NewJWTValidatorRS256 loads a PEM encoded public key from path.
func NewJWTValidatorRS256(path, claim string) (*JWTValidator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{alg: "RS256", pub: pub, claim: claimOrDefault(claim)}, nil
}

func claimOrDefault(c string) string {
	if c == "" {
		return "email"
	}
	return c
}

// Validate returns the identity from the configured claim, falling back to sub.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{j.alg}))
	tok, err := parser.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if j.alg == "RS256" {
			return j.pub, nil
		}
		return j.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", domain.ErrUnauthenticated
	}
	if id, ok := claims[j.claim].(string); ok && id != "" {
		return id, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: token carries no identity", domain.ErrUnauthenticated)
}

// ParseBearerToken extracts the token from an Authorization header value.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}
