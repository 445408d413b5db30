package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// Envelope is the body of every response.
type Envelope struct {
	Success  bool                  `json:"success"`
	Message  string                `json:"message"`
	Data     any                   `json:"data,omitempty"`
	MetaData *types.PageMeta       `json:"metaData,omitempty"`
	Errors   []apperror.FieldError `json:"errors,omitempty"`
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// UserFromContext returns the user attached by Authenticate.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func writePage(w http.ResponseWriter, message string, data any, meta types.PageMeta) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data, MetaData: &meta})
}

// writeError renders err as an error envelope. Internal errors are logged
// with their cause and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.From(err)
	log := hlog.FromRequest(r)
	if appErr.Status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", appErr.Code).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("code", appErr.Code).Msg("request rejected")
	}
	writeJSON(w, appErr.Status, Envelope{
		Success: false,
		Message: appErr.Message,
		Errors:  appErr.Fields,
	})
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Field("body", "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.Field("body", "request body is too large")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return apperror.Field(typeErr.Field, "has the wrong type")
		}
		return apperror.Field("body", "invalid JSON")
	}
	return nil
}

// pageQuery reads page, limit and search from the query string.
func pageQuery(r *http.Request) (types.PageQuery, error) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), types.DefaultPage)
	if err != nil {
		return types.PageQuery{}, apperror.Field("page", "must be a positive integer")
	}
	if page > types.MaxPage {
		return types.PageQuery{}, apperror.Field("page", fmt.Sprintf("must be at most %d", types.MaxPage))
	}
	limit, err := queryInt(q.Get("limit"), types.DefaultLimit)
	if err != nil {
		return types.PageQuery{}, apperror.Field("limit", "must be a positive integer")
	}
	return types.PageQuery{
		Page:   page,
		Limit:  limit,
		Search: strings.TrimSpace(q.Get("search")),
	}.Normalize(), nil
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}

// queryBool parses an optional boolean filter.
func queryBool(raw, field string) (*bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperror.Field(field, "must be true or false")
	}
	return &value, nil
}

// currentUser returns the authenticated user or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.Authentication("authentication required"))
	}
	return user, ok
}
