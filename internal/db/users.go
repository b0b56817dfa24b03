package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/reelforge/internal/models"
)

// ErrInsufficientCredits is returned when a conditional debit finds the
// balance below the cost. Callers map it to a payment-required response.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, avatar_url, credits, subscription, last_credit_reset)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at, updated_at
	`

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Credits == 0 {
		user.Credits = models.FreeMonthlyCredits
	}

	return db.QueryRowContext(
		ctx, query,
		user.ID, user.Email, user.Name, user.AvatarURL,
		user.Credits, user.Subscription,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return db.getUserWhere(ctx, "id = $1", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUserWhere(ctx, "email = $1", email)
}

func (db *DB) getUserWhere(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `
		SELECT id, email, name, avatar_url, credits, subscription, last_credit_reset,
			created_at, updated_at
		FROM users
		WHERE ` + where

	user := &models.User{}
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL,
		&user.Credits, &user.Subscription, &user.LastCreditReset,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// DebitCredits decrements a user's balance by cost, but only when the balance
// covers it. The condition lives in the UPDATE itself so two concurrent
// debits can never both succeed against one balance.
func (db *DB) DebitCredits(ctx context.Context, userID uuid.UUID, cost int) (int, error) {
	query := `
		UPDATE users
		SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
		RETURNING credits
	`

	var remaining int
	err := db.QueryRowContext(ctx, query, userID, cost).Scan(&remaining)
	if err == sql.ErrNoRows {
		// Either no such user or the balance is short; disambiguate for the caller.
		if _, lookupErr := db.GetUser(ctx, userID); lookupErr != nil {
			return 0, lookupErr
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}

	return remaining, nil
}

// RefreshMonthlyCredits restores the user's balance to their tier floor when
// the last reset happened in a different calendar month (or never). The month
// check is part of the statement so concurrent refreshes reset at most once.
func (db *DB) RefreshMonthlyCredits(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Skip the write when this month's reset already happened. The guard in
	// the UPDATE stays authoritative under concurrent refreshes.
	if !models.NeedsMonthlyReset(user.LastCreditReset, time.Now()) {
		return user, nil
	}

	query := `
		UPDATE users
		SET credits = CASE WHEN subscription THEN $2 ELSE $3 END,
			last_credit_reset = NOW(),
			updated_at = NOW()
		WHERE id = $1
			AND (last_credit_reset IS NULL
				OR date_trunc('month', last_credit_reset) <> date_trunc('month', NOW()))
	`

	result, err := db.ExecContext(ctx, query, userID,
		models.SubscriberMonthlyCredits, models.FreeMonthlyCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh credits: %w", err)
	}
	if _, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to refresh credits: %w", err)
	}

	// A no-op update means the reset already happened this month; either way
	// return the current state.
	return db.GetUser(ctx, userID)
}

// ApplySubscriptionCredit handles a billing activation or renewal: the
// subscription flag is set and the balance is raised to the subscriber floor.
// GREATEST keeps an existing higher balance, so the event never takes credits
// away.
func (db *DB) ApplySubscriptionCredit(ctx context.Context, email string) (*models.User, error) {
	query := `
		UPDATE users
		SET subscription = TRUE,
			credits = GREATEST(credits, $2),
			last_credit_reset = NOW(),
			updated_at = NOW()
		WHERE email = $1
		RETURNING id, email, name, avatar_url, credits, subscription, last_credit_reset,
			created_at, updated_at
	`

	user := &models.User{}
	err := db.QueryRowContext(ctx, query, email, models.SubscriberMonthlyCredits).Scan(
		&user.ID, &user.Email, &user.Name, &user.AvatarURL,
		&user.Credits, &user.Subscription, &user.LastCreditReset,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply subscription credit: %w", err)
	}

	return user, nil
}
