// ABOUTME: JWT verification for identity tokens issued by the external auth service
// ABOUTME: Uses HS256 signing with configurable secret

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity is the authenticated caller extracted from a verified token.
// Name and Email are optional claims; the user id is required.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs. Courier does
// not mint production tokens; the external auth service signs them with the
// shared secret and courier only validates.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the caller's identity from the
// "sub" claim plus the optional "name" and "email" claims.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	ident := &Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		ident.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		ident.Email = email
	}
	return ident, nil
}

// Generate creates a new JWT token for the given identity with expiration.
// Used by `courierd token` for development setups.
func (v *JWTVerifier) Generate(ident *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": ident.UserID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if ident.Name != "" {
		claims["name"] = ident.Name
	}
	if ident.Email != "" {
		claims["email"] = ident.Email
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
