package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/grimoire/internal/api/shared"
)

// Authentication errors
var (
	// ErrInvalidToken is returned when a service token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when a service token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// ServiceClaims is the claim set carried by service tokens. Command,
// projection, and saga services identify themselves via the subject claim.
type ServiceClaims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware provides JWT bearer authentication for service callers.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates a new AuthMiddleware verifying HS256 service
// tokens signed with the given secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
	}
}

// Authenticate validates the bearer token from the Authorization header
// and adds the calling service's name to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			switch {
			case errors.Is(err, ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			default:
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), shared.CallerContextKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken parses and verifies an HS256 service token.
func (m *AuthMiddleware) validateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetCaller extracts the authenticated service name from the request context.
// Returns the name and a boolean indicating if it was found.
func GetCaller(r *http.Request) (string, bool) {
	caller, ok := r.Context().Value(shared.CallerContextKey).(string)
	return caller, ok
}
