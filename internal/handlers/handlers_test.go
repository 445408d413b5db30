package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/auth"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/siteinspect/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	inspector = types.User{ID: "0b7a1c34-5b55-4a9e-9d0e-9c1d2f3e4a01", UserID: "INSP0001", FirstName: "Ivy", Role: types.RoleInspector, IsApproved: true}
	admin     = types.User{ID: "0b7a1c34-5b55-4a9e-9d0e-9c1d2f3e4a02", UserID: "ADMN0001", FirstName: "Ada", Role: types.RoleAdmin, IsApproved: true}
)

type userLoader map[string]types.User

func (u userLoader) GetByID(_ context.Context, id string) (types.User, error) {
	user, ok := u[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

type jobRepo struct {
	jobs []types.JobView
}

func (r *jobRepo) List(context.Context, types.JobFilter) ([]types.JobView, int, error) {
	return r.jobs, len(r.jobs), nil
}

func (r *jobRepo) GetView(_ context.Context, id string) (types.JobView, error) {
	for _, j := range r.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return types.JobView{}, store.ErrNotFound
}

func (r *jobRepo) Get(context.Context, string) (types.Job, error) {
	return types.Job{}, store.ErrNotFound
}

func (r *jobRepo) Create(_ context.Context, job types.Job) (types.Job, error) {
	return job, nil
}

func (r *jobRepo) Update(_ context.Context, job types.Job) (types.Job, error) {
	return job, nil
}

func (r *jobRepo) Delete(context.Context, string) error {
	return nil
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func newJobServer(t *testing.T) (http.Handler, *auth.TokenIssuer) {
	t.Helper()
	tokens := auth.NewTokenIssuer("handler-secret", time.Hour)
	users := userLoader{inspector.ID: inspector, admin.ID: admin}
	repo := &jobRepo{jobs: []types.JobView{{ID: "job-1", Address: "1 Main St"}}}

	r := chi.NewRouter()
	r.Route("/job", func(r chi.Router) {
		JobRouter(r, services.NewJobService(repo, users), Authenticate(tokens, users))
	})
	return r, tokens
}

func bearer(t *testing.T, tokens *auth.TokenIssuer, user types.User) string {
	t.Helper()
	token, err := tokens.Issue(user)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthenticateRejectsMissingAndInvalidTokens(t *testing.T) {
	h, _ := newJobServer(t)

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Basic abc",
		"garbage": "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/job", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
		})
	}
}

func TestAuthenticateRejectsDeletedUser(t *testing.T) {
	h, tokens := newJobServer(t)
	ghost := types.User{ID: "0b7a1c34-5b55-4a9e-9d0e-9c1d2f3e4aff", Role: types.RoleAdmin}

	req := httptest.NewRequest(http.MethodGet, "/job", nil)
	req.Header.Set("Authorization", bearer(t, tokens, ghost))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobListReturnsPageMeta(t *testing.T) {
	h, tokens := newJobServer(t)

	req := httptest.NewRequest(http.MethodGet, "/job?page=1&limit=5", nil)
	req.Header.Set("Authorization", bearer(t, tokens, inspector))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	require.NotNil(t, env.MetaData)
	assert.Equal(t, types.PageMeta{Page: 1, Limit: 5, Total: 1, TotalPage: 1}, *env.MetaData)
}

func TestRequireRolesForbidsInspectorWrites(t *testing.T) {
	h, tokens := newJobServer(t)

	req := httptest.NewRequest(http.MethodPost, "/job", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", bearer(t, tokens, inspector))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestJobCreateValidationErrorsListFields(t *testing.T) {
	h, tokens := newJobServer(t)

	req := httptest.NewRequest(http.MethodPost, "/job", bytes.NewBufferString(`{"formType":"Pre-handover"}`))
	req.Header.Set("Authorization", bearer(t, tokens, admin))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	fields := make([]string, 0, len(env.Errors))
	for _, fe := range env.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "inspector")
	assert.Contains(t, fields, "address")
}

func TestJobGetUnknownIsNotFound(t *testing.T) {
	h, tokens := newJobServer(t)

	req := httptest.NewRequest(http.MethodGet, "/job/missing", nil)
	req.Header.Set("Authorization", bearer(t, tokens, admin))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, req, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
	assert.Equal(t, "internal server error", decodeEnvelope(t, rec).Message)
}

func TestWriteErrorMapsStoreSentinels(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), store.ErrConflict)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecovererAnswers500(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestRateLimitedSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RateLimited(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), 1500*time.Millisecond)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "too many requests", decodeEnvelope(t, rec).Message)
}

func TestPageQuery(t *testing.T) {
	q, err := pageQuery(httptest.NewRequest(http.MethodGet, "/?search=%20roof%20&limit=500", nil))
	require.NoError(t, err)
	assert.Equal(t, types.PageQuery{Page: 1, Limit: types.MaxLimit, Search: "roof"}, q)

	_, err = pageQuery(httptest.NewRequest(http.MethodGet, "/?page=0", nil))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = pageQuery(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil))
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	for _, page := range []string{"9223372036854775807", "99999999999999999999", strconv.Itoa(types.MaxPage + 1)} {
		_, err = pageQuery(httptest.NewRequest(http.MethodGet, "/?page="+page, nil))
		require.Error(t, err, page)
		assert.Equal(t, "page", apperror.From(err).Fields[0].Field, page)
	}

	q, err = pageQuery(httptest.NewRequest(http.MethodGet, "/?page="+strconv.Itoa(types.MaxPage), nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, q.Offset(), 0)
}

func TestQueryBool(t *testing.T) {
	v, err := queryBool("", "isApproved")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = queryBool("true", "isApproved")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, *v)

	_, err = queryBool("maybe", "isApproved")
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Count int `json:"count"`
	}

	err := decodeJSON(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("")), &dst)
	require.Error(t, err)
	assert.Equal(t, "body", apperror.From(err).Fields[0].Field)

	err = decodeJSON(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"count":"x"}`)), &dst)
	require.Error(t, err)
	assert.Equal(t, "count", apperror.From(err).Fields[0].Field)

	require.NoError(t, decodeJSON(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"count":3}`)), &dst))
	assert.Equal(t, 3, dst.Count)
}
