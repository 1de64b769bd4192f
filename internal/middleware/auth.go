package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mwork/chat-governor/internal/pkg/jwt"
	"github.com/mwork/chat-governor/internal/pkg/response"
)

type contextKey string

const (
	OperatorKey contextKey = "operator"
	RoleKey     contextKey = "role"
)

// Auth returns middleware that validates operator JWTs
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateOperatorToken(parts[1])
			if err != nil {
				if errors.Is(err, jwt.ErrExpiredToken) {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), OperatorKey, claims.Operator)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperator extracts the operator name from context
func GetOperator(ctx context.Context) string {
	if name, ok := ctx.Value(OperatorKey).(string); ok {
		return name
	}
	return ""
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// RequireRole returns middleware that checks the operator role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetRole(r.Context())

			for _, role := range roles {
				if userRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireOperator allows full operators only
func RequireOperator() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleOperator)
}

// RequireViewer allows read-only viewers and operators
func RequireViewer() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleViewer, jwt.RoleOperator)
}
