package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"marketchat/internal/auth"
	"marketchat/internal/logger"
	"marketchat/internal/models"
	"marketchat/internal/repository"
)

type contextKey string

const UserKey contextKey = "user"

// UserLookup resolves the account behind a validated token.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenValidator is satisfied by *auth.Signer.
type TokenValidator interface {
	ValidateToken(token string) (*auth.CustomClaims, error)
}

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearer finds the access token: Authorization header, then the
// access_token cookie, then a token query parameter for websocket
// handshakes from browsers.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie("access_token"); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func UserFrom(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(UserKey).(*models.User)
	return u, ok && u != nil
}

func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, UserKey, u)
}

func Authenticate(tokens TokenValidator, users UserLookup, log *logger.Logger) func(http.Handler) http.Handler {
	log = log.With("component", "AUTH")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			claims, err := tokens.ValidateToken(raw)
			if err != nil {
				log.Info("invalid token", "ip", getIP(r), "error", err)
				writeError(w, http.StatusUnauthorized, "unauthorized", "session expired or invalid")
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
				log.Warn("token valid but user no longer exists", "user", claims.UserID)
				writeError(w, http.StatusUnauthorized, "unauthorized", "user account not found")
				return
			case errors.Is(err, repository.ErrBanned):
				writeError(w, http.StatusForbidden, "banned", "account suspended")
				return
			case err != nil:
				log.Error("user lookup failed", "user", claims.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
