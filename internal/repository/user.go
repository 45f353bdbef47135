package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles database operations for users. SetSubscription and
// SaveCardAuthorization are called only by the reconciliation engine.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Exists(ctx context.Context, email string) (bool, error)
	ListAll(ctx context.Context) ([]*domain.User, error)
	CountPremium(ctx context.Context, now time.Time) (int64, error)
	SetSubscription(ctx context.Context, userID string, sub domain.Subscription) error
	SaveCardAuthorization(ctx context.Context, userID, encrypted string) error
}

type pgUserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &pgUserRepository{db: db}
}

const userColumns = `id, email, password, role, subscription_type, activated_at, expires_at, card_authorization, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Password, &u.Role,
		&u.SubscriptionType, &u.ActivatedAt, &u.ExpiresAt, &u.CardAuthorization,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *pgUserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, password, role, subscription_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		u.ID, u.Email, u.Password, u.Role, u.SubscriptionType, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *pgUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *pgUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *pgUserRepository) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

func (r *pgUserRepository) ListAll(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *pgUserRepository) CountPremium(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM users WHERE subscription_type = 'premium' AND (expires_at IS NULL OR expires_at > $1)`
	if err := r.db.QueryRow(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count premium users: %w", err)
	}
	return n, nil
}

func (r *pgUserRepository) SetSubscription(ctx context.Context, userID string, sub domain.Subscription) error {
	query := `
		UPDATE users
		SET subscription_type = $2, activated_at = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, userID, sub.Type, sub.ActivatedAt, sub.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("user not found")
	}
	return nil
}

func (r *pgUserRepository) SaveCardAuthorization(ctx context.Context, userID, encrypted string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET card_authorization = $2, updated_at = NOW() WHERE id = $1`, userID, encrypted)
	if err != nil {
		return fmt.Errorf("failed to save card authorization: %w", err)
	}
	return nil
}
