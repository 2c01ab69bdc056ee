package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateUser inserts an alert-routing identity.
func (s *Store) CreateUser(ctx context.Context, u User) (uuid.UUID, error) {
	if u.Email == "" && u.MessagingAddress == "" && u.WebhookURL == "" {
		return uuid.Nil, fmt.Errorf("%w: user needs at least one delivery address", ErrInvalidInput)
	}
	id := u.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	channel := u.PrimaryChannel
	if channel == "" {
		channel = "email"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, messaging_address, webhook_url, primary_channel, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), u.Email, u.MessagingAddress, u.WebhookURL, channel, now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var (
		u       User
		deleted int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email, messaging_address, webhook_url, primary_channel, deleted
		FROM users WHERE id = ?`, id.String()).
		Scan(&u.Email, &u.MessagingAddress, &u.WebhookURL, &u.PrimaryChannel, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.ID = id
	u.Deleted = deleted != 0
	return u, nil
}
