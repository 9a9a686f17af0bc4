package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"AI_PROCTOR/go-backend/internal/auth"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/config"
	"AI_PROCTOR/go-backend/internal/logging"
	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/proctor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newAuthHandler() (*AuthHandler, *auth.Service) {
	svc := auth.NewService(auth.NewMemoryUsers(), auth.NewSessions(), logging.Discard())
	return NewAuthHandler(svc, NewCORS("http://localhost:5000"), false, logging.Discard()), svc
}

func post(t *testing.T, h http.HandlerFunc, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func get(t *testing.T, h http.HandlerFunc, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

const (
	aliceSignup = `{"email":"alice@example.com","username":"alice","password":"secret123"}`
	aliceLogin  = `{"email":"alice@example.com","password":"secret123"}`
)

func TestRegisterLoginMeLogout(t *testing.T) {
	h, _ := newAuthHandler()

	rec := post(t, h.Register, aliceSignup)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "alice", created.Username)
	assert.NotZero(t, created.ID)

	rec = post(t, h.Login, aliceLogin)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 86400, cookie.MaxAge)

	rec = get(t, h.GetCurrentUser, "/api/auth/me", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, created.ID, me.ID)

	rec = post(t, h.Logout, "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, sessionCookie(t, rec).MaxAge)

	rec = get(t, h.GetCurrentUser, "/api/auth/me", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthErrorStatusCodes(t *testing.T) {
	h, _ := newAuthHandler()
	require.Equal(t, http.StatusCreated, post(t, h.Register, aliceSignup).Code)

	tests := []struct {
		name string
		fn   http.HandlerFunc
		body string
		code int
		msg  string
	}{
		{"malformed body", h.Register, `{`, http.StatusBadRequest, "Invalid request"},
		{"missing fields", h.Register, `{"email":"a@b.co"}`, http.StatusBadRequest, "All fields are required"},
		{"weak password", h.Register, `{"email":"b@example.com","username":"bob","password":"short"}`, http.StatusBadRequest, "Password must be"},
		{"email taken", h.Register, `{"email":"alice@example.com","username":"alice2","password":"secret123"}`, http.StatusConflict, "Email already registered"},
		{"username taken", h.Register, `{"email":"other@example.com","username":"alice","password":"secret123"}`, http.StatusConflict, "Username already taken"},
		{"wrong password", h.Login, `{"email":"alice@example.com","password":"wrong1234"}`, http.StatusUnauthorized, "Invalid email or password"},
		{"unknown email", h.Login, `{"email":"nobody@example.com","password":"secret123"}`, http.StatusUnauthorized, "Invalid email or password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, tt.fn, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.msg)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newAuthHandler()
	rec := get(t, h.Register, "/api/auth/register")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newAuthHandler()

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.Login(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowed(t *testing.T) {
	c := NewCORS(" http://a.test , http://b.test,")
	assert.True(t, c.Allowed(""))
	assert.True(t, c.Allowed("http://b.test"))
	assert.False(t, c.Allowed("http://c.test"))
	assert.True(t, NewCORS("*").Allowed("http://anything.test"))
}

func TestOperatorSnapshot(t *testing.T) {
	h, svc := newAuthHandler()
	require.Equal(t, http.StatusCreated, post(t, h.Register, aliceSignup).Code)
	rec := post(t, h.Login, aliceLogin)
	cookie := sessionCookie(t, rec)
	user, err := svc.Authenticate(context.Background(), cookie.Value)
	require.NoError(t, err)

	registry := proctor.NewRegistry()
	op := NewOperatorHandler(h, registry, NewCORS("*"), logging.Discard())

	assert.Equal(t, http.StatusUnauthorized, get(t, op.Snapshot, "/api/operator/snapshot").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, op.Snapshot, "/api/operator/snapshot?user_id=x", cookie).Code)
	assert.Equal(t, http.StatusNotFound, get(t, op.Snapshot, "/api/operator/snapshot", cookie).Code)

	session := proctor.NewSession(config.DefaultProctoring(), proctor.Deps{
		Identity: svc.Identity(cookie.Value, user),
		Logger:   logging.Discard(),
	})
	registry.Add(session)
	defer registry.CloseAll()

	rec = get(t, op.Snapshot, "/api/operator/snapshot", cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Operator view is disabled")

	session.SetOperatorView(true)
	rec = get(t, op.Snapshot, "/api/operator/snapshot?user_id="+strconv.Itoa(user.ID), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, session.ID, snap.SessionID)
	assert.Equal(t, user.ID, snap.UserID)
	assert.Equal(t, models.StatusMonitoring, snap.Status)
	assert.Equal(t, 3, snap.MaxWarnings)
	assert.False(t, snap.CaptureActive)
}

func TestHealthHandler(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	registry := proctor.NewRegistry()
	var up atomic.Bool

	h := NewHealthHandler(registry, func(context.Context) bool { return up.Load() }, clk, "test")
	clk.Advance(90 * time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "degraded", st.Status)
	assert.False(t, st.FaceMesh)
	assert.Equal(t, 90*time.Second, st.Uptime)
	assert.Equal(t, "test", st.Version)

	up.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "healthy", st.Status)
	assert.True(t, st.FaceMesh)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthReporterFollowsProbe(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	srv := health.NewServer()
	var up atomic.Bool
	up.Store(true)

	r := NewHealthReporter(srv, func(context.Context) bool { return up.Load() }, clk, 10*time.Second, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ProctorService})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	clk.WaitForTimers(1)
	assert.Equal(t, 1, r.Checks())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status())

	up.Store(false)
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return r.Checks() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Serving())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	r.Stop()
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
	r.Stop()
}
