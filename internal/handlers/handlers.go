package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"AI_PROCTOR/go-backend/internal/auth"
	"AI_PROCTOR/go-backend/internal/models"
)

const requestTimeout = 5 * time.Second

// CORS sets the headers the candidate page needs for credentialed
// requests. Origins are matched exactly; "*" allows any.
type CORS struct {
	origins []string
}

func NewCORS(origins string) CORS {
	var list []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			list = append(list, o)
		}
	}
	return CORS{origins: list}
}

func (c CORS) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (c CORS) enable(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && c.Allowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cookie")
	w.Header().Set("Content-Type", "application/json")
}

// preflight answers OPTIONS requests. It reports whether the request was
// handled.
func (c CORS) preflight(w http.ResponseWriter, r *http.Request) bool {
	c.enable(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AuthHandler serves the account endpoints under /api/auth.
type AuthHandler struct {
	auth   *auth.Service
	cors   CORS
	secure bool
	logger *slog.Logger
}

func NewAuthHandler(svc *auth.Service, cors CORS, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		cors:   cors,
		secure: secureCookies,
		logger: logger.With("component", "auth_http"),
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h.cors.preflight(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	user, err := h.auth.Register(ctx, req)
	if err != nil {
		h.fail(w, "registration failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.cors.preflight(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	user, token, err := h.auth.Login(ctx, req)
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}

	if old, err := r.Cookie(auth.CookieName); err == nil && old.Value != token {
		h.auth.Logout(old.Value)
	}
	h.setCookie(w, token, 86400)
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.cors.preflight(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		h.auth.Logout(cookie.Value)
	}
	h.setCookie(w, "", -1)

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if h.cors.preflight(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, _, err := h.Authenticate(r)
	if err != nil {
		h.fail(w, "current user lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Authenticate resolves the session cookie of r.
func (h *AuthHandler) Authenticate(r *http.Request) (models.User, string, error) {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil || cookie.Value == "" {
		return models.User{}, "", auth.ErrUnauthenticated
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	user, err := h.auth.Authenticate(ctx, cookie.Value)
	if err != nil {
		return models.User{}, "", err
	}
	return user, cookie.Value, nil
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) fail(w http.ResponseWriter, msg string, err error) {
	var verr *auth.ValidationError
	switch {
	case errors.As(err, &verr):
		http.Error(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, auth.ErrEmailTaken):
		http.Error(w, "Email already registered", http.StatusConflict)
	case errors.Is(err, auth.ErrUsernameTaken):
		http.Error(w, "Username already taken", http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrUserNotFound):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	default:
		h.logger.Error(msg, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
