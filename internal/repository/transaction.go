package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionRepository is the durable record of every payment attempt.
// TryFinalize is the single atomic conditional update that makes duplicate or
// racing gateway signals safe: for one reference, exactly one caller gets
// applied=true.
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	Get(ctx context.Context, reference string) (*domain.Transaction, error)
	MarkPending(ctx context.Context, reference string) (*domain.Transaction, error)
	TryFinalize(ctx context.Context, reference string, outcome domain.Outcome, gatewayTxID string) (*domain.Transaction, bool, error)
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	CountByStatus(ctx context.Context) (map[domain.TxStatus]int64, error)
	VerifiedRevenue(ctx context.Context) (int64, error)
}

type pgTransactionRepository struct {
	db *pgxpool.Pool
}

// NewTransactionRepository creates a PostgreSQL-backed transaction store.
func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &pgTransactionRepository{db: db}
}

const txColumns = `reference, user_id, plan_type, amount, currency, status, gateway_tx_id, created_at, verified_at`

func scanTx(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.Reference, &t.UserID, &t.PlanType, &t.AmountMinor, &t.Currency,
		&t.Status, &t.GatewayTxID, &t.CreatedAt, &t.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *pgTransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	query := `
		INSERT INTO transactions (reference, user_id, plan_type, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		t.Reference, t.UserID, t.PlanType, t.AmountMinor, t.Currency, t.Status, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *pgTransactionRepository) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE reference = $1`
	t, err := scanTx(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound("transaction not found")
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// MarkPending transitions initialized -> pending once the gateway has accepted
// the initialize call. A transaction already pending is a no-op.
func (r *pgTransactionRepository) MarkPending(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `
		UPDATE transactions SET status = $2
		WHERE reference = $1 AND status IN ($3, $2)
		RETURNING ` + txColumns
	t, err := scanTx(r.db.QueryRow(ctx, query, reference, domain.TxPending, domain.TxInitialized))
	if err == nil {
		return t, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to mark transaction pending: %w", err)
	}

	// No row matched: either the reference is unknown or the transaction has
	// already left the initialized/pending states.
	existing, gerr := r.Get(ctx, reference)
	if gerr != nil {
		return nil, gerr
	}
	return nil, domain.ErrInvalidState(fmt.Sprintf("transaction is %s, cannot mark pending", existing.Status))
}

// TryFinalize applies outcome only if the transaction is still open
// (initialized or pending). Anything else returns the stored record unchanged
// with applied=false, which is the idempotency guard against duplicate
// webhook deliveries and webhook/poll races.
func (r *pgTransactionRepository) TryFinalize(ctx context.Context, reference string, outcome domain.Outcome, gatewayTxID string) (*domain.Transaction, bool, error) {
	query := `
		UPDATE transactions
		SET status = $2,
		    gateway_tx_id = COALESCE(NULLIF($3, ''), gateway_tx_id),
		    verified_at = CASE WHEN $2 = 'verified' THEN NOW() ELSE verified_at END
		WHERE reference = $1 AND status IN ('initialized', 'pending')
		RETURNING ` + txColumns
	t, err := scanTx(r.db.QueryRow(ctx, query, reference, outcome.Status(), gatewayTxID))
	if err == nil {
		return t, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("failed to finalize transaction: %w", err)
	}

	existing, gerr := r.Get(ctx, reference)
	if gerr != nil {
		return nil, false, gerr
	}
	return existing, false, nil
}

// ExpireOlderThan sweeps abandoned payments through the same conditional
// guard as TryFinalize, so a late webhook can never revive a swept row.
func (r *pgTransactionRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE transactions SET status = $1
		WHERE status IN ('initialized', 'pending') AND created_at < $2
	`
	tag, err := r.db.Exec(ctx, query, domain.TxExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgTransactionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *pgTransactionRepository) CountByStatus(ctx context.Context) (map[domain.TxStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TxStatus]int64)
	for rows.Next() {
		var status domain.TxStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan transaction count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *pgTransactionRepository) VerifiedRevenue(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE status = 'verified'`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum verified revenue: %w", err)
	}
	return total, nil
}
