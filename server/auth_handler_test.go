package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"beatquiz/core/auth"
	"beatquiz/model"
	"beatquiz/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]*model.User // by username
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return 0, repository.ErrDuplicateUser
		}
	}
	user.ID = f.nextID
	f.nextID++
	f.users[user.Username] = user
	return user.ID, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		return u, nil
	}
	return nil, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func newTestAuthHandler() *AuthHandler {
	return NewAuthHandler(newFakeUserRepo(), auth.NewTokenIssuer("test-secret"))
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	h := newTestAuthHandler()

	rec := postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"alice","password":"hunter22","email":"alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var reg AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "alice", reg.Username)
	assert.False(t, reg.Guest)

	rec = postJSON(t, h.LoginHandler, "/api/auth/login",
		`{"username":"alice","password":"hunter22"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Login by email works too.
	rec = postJSON(t, h.LoginHandler, "/api/auth/login",
		`{"username":"alice@example.com","password":"hunter22"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterDuplicate(t *testing.T) {
	h := newTestAuthHandler()

	rec := postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"alice","password":"hunter22","email":"alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"alice","password":"other123","email":"other@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	h := newTestAuthHandler()

	rec := postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"alice","password":"short","email":"alice@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"","password":"hunter22","email":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestAuthHandler()

	rec := postJSON(t, h.RegisterHandler, "/api/auth/register",
		`{"username":"alice","password":"hunter22","email":"alice@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h.LoginHandler, "/api/auth/login",
		`{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, h.LoginHandler, "/api/auth/login",
		`{"username":"nobody","password":"whatever"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitSession(t *testing.T) {
	h := newTestAuthHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/init-session", nil)
	rec := httptest.NewRecorder()
	h.InitSessionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Guest)
	assert.NotEmpty(t, resp.Token)
	assert.GreaterOrEqual(t, resp.UserID, int64(10000))
	assert.LessOrEqual(t, resp.UserID, int64(99999))
	assert.True(t, strings.HasPrefix(resp.Username, "guest-"))
}

func TestInitSessionKeepsValidIdentity(t *testing.T) {
	h := newTestAuthHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/init-session", nil)
	rec := httptest.NewRecorder()
	h.InitSessionHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var first AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	req = httptest.NewRequest(http.MethodGet, "/api/init-session", nil)
	req.Header.Set("Authorization", "Bearer "+first.Token)
	rec = httptest.NewRecorder()
	h.InitSessionHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var second AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.Username, second.Username)
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestAuthHandler()

	protected := h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userID, err := GetUserIDFromContext(r.Context())
		require.NoError(t, err)
		username, err := GetUsernameFromContext(r.Context())
		require.NoError(t, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "username": username})
	})

	// No header.
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	protected(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed header.
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	protected(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	protected(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token reaches the handler with the identity on the context.
	token, err := h.tokens.GenerateToken(77, "alice", false)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	protected(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(77), body["userId"])
	assert.Equal(t, "alice", body["username"])
}
