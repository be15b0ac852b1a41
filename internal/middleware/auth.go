package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/ruralpay/ledger/internal/services"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type contextKey string

const userIDKey contextKey = "userID"

// Authenticator resolves a bearer credential to the caller's user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret and
// carrying the user id in one of the userId, user_id or sub claims.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, tokenString string) (int64, error) {
	if len(a.secret) == 0 {
		return 0, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}

	for _, name := range []string{"userId", "user_id", "sub"} {
		if raw, ok := claims[name]; ok {
			return parseUserID(raw)
		}
	}
	return 0, fmt.Errorf("%w: token carries no user id", ErrInvalidToken)
}

func parseUserID(raw any) (int64, error) {
	var id int64
	switch v := raw.(type) {
	case float64:
		id = int64(v)
		if float64(id) != v {
			return 0, fmt.Errorf("%w: user id %v is not an integer", ErrInvalidToken, v)
		}
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: user id %q is not numeric", ErrInvalidToken, v)
		}
		id = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported user id claim %T", ErrInvalidToken, raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: user id must be positive", ErrInvalidToken)
	}
	return id, nil
}

// Auth rejects requests without a bearer token (401) or with one the
// authenticator refuses (403), and otherwise stores the caller id in the
// request context.
func Auth(authn Authenticator, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				services.SendErrorResponse(w, "Access token required", http.StatusUnauthorized, nil)
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				services.SendErrorResponse(w, "Access token required", http.StatusUnauthorized, nil)
				return
			}

			userID, err := authn.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Warn("Authentication failed")
				services.SendErrorResponse(w, "Invalid or expired token", http.StatusForbidden, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the id stored by Auth.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
