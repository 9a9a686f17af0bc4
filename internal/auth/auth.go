// Package auth is the account and cookie-session layer. It supplies the
// identity a proctoring session signs out when the candidate is blocked.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/google/uuid"
)

const CookieName = "session_id"

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// ValidationError carries the message shown for a rejected form field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Sessions maps cookie tokens to user ids.
type Sessions struct {
	mu     sync.RWMutex
	tokens map[string]int
}

func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]int)}
}

func (s *Sessions) Create(userID int) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = userID
	s.mu.Unlock()
	return token
}

func (s *Sessions) Lookup(token string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	return id, ok
}

func (s *Sessions) Delete(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// DeleteUser revokes every session of the user.
func (s *Sessions) DeleteUser(userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, id := range s.tokens {
		if id == userID {
			delete(s.tokens, token)
		}
	}
}

type Service struct {
	users    UserRepository
	sessions *Sessions
	logger   *slog.Logger
}

func NewService(users UserRepository, sessions *Sessions, logger *slog.Logger) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		logger:   logger.With("component", "auth"),
	}
}

func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (models.User, error) {
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return models.User{}, &ValidationError{"All fields are required"}
	}
	if !validateEmail(req.Email) {
		return models.User{}, &ValidationError{"Invalid email format"}
	}
	if !validatePassword(req.Password) {
		return models.User{}, &ValidationError{"Password must be 8-72 characters with at least one letter and one number"}
	}
	if !validateUsername(req.Username) {
		return models.User{}, &ValidationError{"Username must be 3-30 characters, alphanumeric and underscore only"}
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, req.Email, req.Username, hash)
	if err != nil {
		return models.User{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	return user, nil
}

// Login checks credentials and opens a new cookie session. Earlier
// sessions of the same user are revoked.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (models.User, string, error) {
	if req.Email == "" || req.Password == "" {
		return models.User{}, "", &ValidationError{"Email and password are required"}
	}
	if !validateEmail(req.Email) {
		return models.User{}, "", &ValidationError{"Invalid email format"}
	}

	user, err := s.users.ByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", err
	}
	if !checkPassword(user.PasswordHash, req.Password) {
		return models.User{}, "", ErrInvalidCredentials
	}

	s.sessions.DeleteUser(user.ID)
	token := s.sessions.Create(user.ID)
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

func (s *Service) Logout(token string) {
	s.sessions.Delete(token)
}

// Authenticate resolves a cookie token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	id, ok := s.sessions.Lookup(token)
	if !ok {
		return models.User{}, ErrUnauthenticated
	}
	user, err := s.users.ByID(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Identity binds an authenticated user to the cookie token they used.
func (s *Service) Identity(token string, user models.User) *Identity {
	return &Identity{svc: s, token: token, user: user}
}

type Identity struct {
	svc   *Service
	token string
	user  models.User

	mu        sync.Mutex
	signedOut bool
}

func (i *Identity) UserID() int { return i.user.ID }

// User returns the signed-in user, or false once signed out.
func (i *Identity) User() (models.User, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.signedOut {
		return models.User{}, false
	}
	return i.user, true
}

// SignOut revokes the cookie session. Safe to call more than once.
func (i *Identity) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.signedOut {
		return nil
	}
	i.signedOut = true
	i.svc.Logout(i.token)
	i.svc.logger.Info("user signed out", "user_id", i.user.ID)
	return nil
}
