package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User errors
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already registered")
)

// User is a registered bot user. The password itself is never stored.
type User struct {
	ID           string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// CreateUser registers a user with a password hash.
func (s *Storage) CreateUser(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, password_hash, created_at) VALUES (?, ?, ?)`,
		userID, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *Storage) GetUser(ctx context.Context, userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         User
		createdAt int64
		updatedAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, password_hash, created_at, updated_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&u.ID, &u.PasswordHash, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		u.UpdatedAt = &t
	}
	return &u, nil
}

// UserExists reports whether userID is registered.
func (s *Storage) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountUsers returns the number of registered users.
func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
