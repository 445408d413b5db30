package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/auth"
	"github.com/siteinspect/apiserver/internal/ratelimit"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/types"
)

// TokenParser verifies access tokens.
type TokenParser interface {
	Parse(token string) (auth.Claims, error)
}

// UserLoader resolves token subjects to users.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (types.User, error)
}

// Authenticate resolves the bearer token to a user and attaches it to the
// request context. Missing, invalid or expired tokens and deleted users are
// rejected with 401.
func Authenticate(tokens TokenParser, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, apperror.Authentication("authentication required"))
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, r, apperror.Authentication("invalid or expired token"))
				return
			}
			user, err := users.GetByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) || apperror.Is(err, apperror.CodeNotFound) {
					writeError(w, r, apperror.Authentication("user no longer exists"))
					return
				}
				writeError(w, r, err)
				return
			}

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", user.ID)
			})
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

// RequireRoles lets the request through only when the authenticated user
// holds one of roles.
func RequireRoles(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := currentUser(w, r)
			if !ok {
				return
			}
			if !user.Role.In(roles...) {
				writeError(w, r, apperror.Authorization("you are not allowed to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger attaches log to every request and writes one access line
// per request, leveled by status.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		l := hlog.FromRequest(r)
		event := l.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = l.Error()
		case status >= http.StatusBadRequest:
			event = l.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client_ip", r.RemoteAddr).
			Int("status", status).
			Int("size", size).
			Dur("latency", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(log)(access(next))
	}
}

// Recoverer turns panics into a logged stack trace and a generic 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Str("request_id", middleware.GetReqID(r.Context())).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
			writeError(w, r, apperror.Internal(errors.New("panic recovered")))
		}()
		next.ServeHTTP(w, r)
	})
}

// RateLimited answers requests rejected by the rate limiter.
func RateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(retryAfter)))
	writeError(w, r, apperror.RateLimited())
}
