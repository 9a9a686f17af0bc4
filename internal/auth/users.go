package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
)

// UserRepository stores accounts. Lookups return the password hash in
// User.PasswordHash.
type UserRepository interface {
	Create(ctx context.Context, email, username, passwordHash string) (models.User, error)
	ByEmail(ctx context.Context, email string) (models.User, error)
	ByID(ctx context.Context, id int) (models.User, error)
}

type PostgresUsers struct {
	pool *pgxpool.Pool
}

func NewPostgresUsers(pool *pgxpool.Pool) *PostgresUsers {
	return &PostgresUsers{pool: pool}
}

func (r *PostgresUsers) Create(ctx context.Context, email, username, passwordHash string) (models.User, error) {
	user := models.User{Email: email, Username: username, PasswordHash: passwordHash}
	err := r.pool.QueryRow(ctx,
		"INSERT INTO users (email, username, password_hash) VALUES ($1, $2, $3) RETURNING id, created_at",
		email, username, passwordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "username") {
				return models.User{}, ErrUsernameTaken
			}
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresUsers) ByEmail(ctx context.Context, email string) (models.User, error) {
	return r.scanOne(ctx,
		"SELECT id, email, username, password_hash, created_at FROM users WHERE email = $1", email)
}

func (r *PostgresUsers) ByID(ctx context.Context, id int) (models.User, error) {
	return r.scanOne(ctx,
		"SELECT id, email, username, password_hash, created_at FROM users WHERE id = $1", id)
}

func (r *PostgresUsers) scanOne(ctx context.Context, query string, arg any) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// MemoryUsers keeps accounts in process memory. Used when no database
// is configured.
type MemoryUsers struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]models.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: make(map[int]models.User)}
}

func (r *MemoryUsers) Create(_ context.Context, email, username, passwordHash string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return models.User{}, ErrEmailTaken
		}
		if u.Username == username {
			return models.User{}, ErrUsernameTaken
		}
	}
	r.nextID++
	u := models.User{
		ID:           r.nextID,
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	r.byID[u.ID] = u
	return u, nil
}

func (r *MemoryUsers) ByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, ErrUserNotFound
}

func (r *MemoryUsers) ByID(_ context.Context, id int) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}
