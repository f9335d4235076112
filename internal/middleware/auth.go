package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

// PrincipalKey is the request-context key carrying the authenticated caller
// principal. The ledger core never authenticates; it authorizes the principal
// this middleware supplies against stored ownership and roles.
type contextKey string

const PrincipalKey contextKey = "principal"

var sessionRedis *redis.Client

// InitAuthMiddleware wires the redis client used for the token blacklist.
func InitAuthMiddleware(redisClient *redis.Client) {
	sessionRedis = redisClient
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		// Logged-out tokens stay blacklisted until their natural expiry.
		if sessionRedis != nil {
			key := fmt.Sprintf("blacklist:%s", token)
			if exists, err := sessionRedis.Exists(r.Context(), key).Result(); err == nil && exists > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		principal, err := validateToken(token)
		if err != nil || principal == "" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Principal extracts the authenticated principal from a request context.
func Principal(r *http.Request) string {
	principal, _ := r.Context().Value(PrincipalKey).(string)
	return principal
}

func validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})

	if err != nil || !token.Valid {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", err
	}

	principal := claims["principal"]
	return fmt.Sprintf("%v", principal), nil
}
