package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/internal/repository"
	"github.com/eduhealth/backend/pkg/crypto"
	"github.com/eduhealth/backend/pkg/payment"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Notifier pushes payment events to the user-facing layer. Implementations
// must not block.
type Notifier interface {
	NotifyPayment(userID string, ev domain.PaymentEvent)
}

// GatewaySignal is one confirmed gateway result for a reference, regardless
// of whether it arrived by webhook push or verification poll.
type GatewaySignal struct {
	Reference         string
	Outcome           domain.Outcome
	GatewayTxID       string
	AuthorizationCode string
}

// SubscriptionService owns the payment lifecycle: it initiates transactions
// and is the single authority that converts confirmed gateway outcomes into
// subscription changes.
type SubscriptionService struct {
	txRepo      repository.TransactionRepository
	userRepo    repository.UserRepository
	gateway     payment.Gateway
	enc         *crypto.Encryptor
	notifier    Notifier
	callbackURL string
	validate    *validator.Validate
}

// NewSubscriptionService creates a new SubscriptionService. enc and notifier
// are optional.
func NewSubscriptionService(
	txRepo repository.TransactionRepository,
	userRepo repository.UserRepository,
	gateway payment.Gateway,
	enc *crypto.Encryptor,
	notifier Notifier,
	callbackURL string,
) *SubscriptionService {
	return &SubscriptionService{
		txRepo:      txRepo,
		userRepo:    userRepo,
		gateway:     gateway,
		enc:         enc,
		notifier:    notifier,
		callbackURL: callbackURL,
		validate:    validator.New(),
	}
}

// InitiatePayment creates a pending transaction and a gateway checkout
// session for it. A failed initialize call is surfaced to the caller as-is;
// retrying means a new call here with a fresh reference, never a replay of
// this one.
func (s *SubscriptionService) InitiatePayment(ctx context.Context, userID string, req *domain.InitiatePaymentRequest) (*domain.InitiatePaymentResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}

	plan, ok := domain.GetPlan(req.PlanType)
	if !ok {
		return nil, domain.ErrValidation("unknown plan type")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load user", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user not found")
	}

	tx := &domain.Transaction{
		Reference:   NewPaymentReference(),
		UserID:      userID,
		PlanType:    plan.ID,
		AmountMinor: plan.AmountMinor,
		Currency:    plan.Currency,
		Status:      domain.TxInitialized,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, domain.ErrInternal("failed to record transaction", err)
	}

	init, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
		Reference:   tx.Reference,
		Email:       user.Email,
		AmountMinor: tx.AmountMinor,
		Currency:    tx.Currency,
		PlanType:    tx.PlanType,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		// The initialized row stays behind for audit; the expiry sweep
		// reclaims it.
		return nil, err
	}

	if _, err := s.txRepo.MarkPending(ctx, tx.Reference); err != nil {
		return nil, err
	}

	return &domain.InitiatePaymentResponse{
		Reference:        tx.Reference,
		AuthorizationURL: init.AuthorizationURL,
		AmountMinor:      tx.AmountMinor,
		Currency:         tx.Currency,
	}, nil
}

// Reconcile merges one gateway signal into the authoritative transaction
// state. Both the webhook receiver and the poll path land here; the store's
// conditional finalize guarantees that duplicate or racing signals activate
// the subscription at most once.
func (s *SubscriptionService) Reconcile(ctx context.Context, sig GatewaySignal) (*domain.ReconcileResult, error) {
	tx, applied, err := s.txRepo.TryFinalize(ctx, sig.Reference, sig.Outcome, sig.GatewayTxID)
	if err != nil {
		return nil, err
	}

	result := &domain.ReconcileResult{FinalStatus: tx.Status, Applied: applied}
	if !applied {
		// Already finalized by an earlier webhook, poll, or expiry sweep.
		return result, nil
	}

	if sig.Outcome == domain.OutcomeVerified {
		if err := s.activateSubscription(ctx, tx); err != nil {
			return nil, err
		}
		result.SubscriptionActivated = true
		s.captureCardAuthorization(ctx, tx.UserID, sig.AuthorizationCode)
	}

	s.notify(tx)
	return result, nil
}

// VerifyPayment is the client-triggered verification poll. It consults the
// gateway only while the transaction is still open and cross-checks the
// response against the stored amount and currency before finalizing.
func (s *SubscriptionService) VerifyPayment(ctx context.Context, userID, reference string) (*domain.ReconcileResult, error) {
	tx, err := s.txRepo.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if userID != "" && tx.UserID != userID {
		return nil, domain.ErrNotFound("transaction not found")
	}

	if tx.Status.Final() {
		return &domain.ReconcileResult{FinalStatus: tx.Status}, nil
	}

	res, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}

	if res.Status == payment.VerifyPending {
		// The charge has not settled; leave the transaction open for the
		// webhook or a later poll.
		return &domain.ReconcileResult{FinalStatus: tx.Status}, nil
	}

	if res.AmountMinor != tx.AmountMinor || !strings.EqualFold(res.Currency, tx.Currency) {
		log.Printf("[Payment] TAMPER reference=%s stored=%d %s gateway=%d %s",
			reference, tx.AmountMinor, tx.Currency, res.AmountMinor, res.Currency)
		if _, rerr := s.Reconcile(ctx, GatewaySignal{
			Reference:   reference,
			Outcome:     domain.OutcomeFailed,
			GatewayTxID: res.GatewayTxID,
		}); rerr != nil {
			log.Printf("[Payment] failed to record tampered transaction %s: %v", reference, rerr)
		}
		return nil, domain.ErrTamper("gateway amount or currency does not match transaction")
	}

	outcome := domain.OutcomeFailed
	if res.Status == payment.VerifySuccess {
		outcome = domain.OutcomeVerified
	}

	return s.Reconcile(ctx, GatewaySignal{
		Reference:         reference,
		Outcome:           outcome,
		GatewayTxID:       res.GatewayTxID,
		AuthorizationCode: res.AuthorizationCode,
	})
}

// GetCurrentSubscription returns the subscription snapshot for a user.
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load user", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user not found")
	}
	sub := user.Subscription()
	return &sub, nil
}

// ListTransactions returns the user's payment attempts, newest first.
func (s *SubscriptionService) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	txs, err := s.txRepo.ListByUser(ctx, userID, 50)
	if err != nil {
		return nil, domain.ErrInternal("failed to list transactions", err)
	}
	return txs, nil
}

// activateSubscription upgrades the user for the plan on the verified
// transaction. A still-active premium subscription is extended from its
// current expiry, never shortened.
func (s *SubscriptionService) activateSubscription(ctx context.Context, tx *domain.Transaction) error {
	user, err := s.userRepo.FindByID(ctx, tx.UserID)
	if err != nil {
		return domain.ErrInternal("failed to load user", err)
	}
	if user == nil {
		return domain.ErrInternal("verified transaction for unknown user", fmt.Errorf("user %s", tx.UserID))
	}

	plan, ok := domain.GetPlan(tx.PlanType)
	if !ok {
		return domain.ErrInternal("verified transaction for unknown plan", fmt.Errorf("plan %s", tx.PlanType))
	}

	now := time.Now().UTC()
	start := now
	if user.SubscriptionType == domain.SubscriptionPremium && user.ExpiresAt != nil && user.ExpiresAt.After(now) {
		start = *user.ExpiresAt
	}
	expires := start.AddDate(0, 0, plan.DurationDays)

	sub := domain.Subscription{
		Type:        domain.SubscriptionPremium,
		ActivatedAt: &now,
		ExpiresAt:   &expires,
	}
	if err := s.userRepo.SetSubscription(ctx, tx.UserID, sub); err != nil {
		return err
	}

	log.Printf("[Payment] subscription activated user=%s plan=%s expires=%s reference=%s",
		tx.UserID, tx.PlanType, expires.Format(time.RFC3339), tx.Reference)
	return nil
}

// captureCardAuthorization stores the gateway's reusable charge authorization
// encrypted at rest, for future renewals. Best effort.
func (s *SubscriptionService) captureCardAuthorization(ctx context.Context, userID, code string) {
	if s.enc == nil || code == "" {
		return
	}
	encrypted, err := s.enc.Encrypt([]byte(code))
	if err != nil {
		log.Printf("[Payment] failed to encrypt card authorization for user %s: %v", userID, err)
		return
	}
	if err := s.userRepo.SaveCardAuthorization(ctx, userID, encrypted); err != nil {
		log.Printf("[Payment] failed to save card authorization for user %s: %v", userID, err)
	}
}

func (s *SubscriptionService) notify(tx *domain.Transaction) {
	if s.notifier == nil {
		return
	}
	// Never blocks the caller; webhook acks must not wait on notification.
	go s.notifier.NotifyPayment(tx.UserID, domain.PaymentEvent{
		Reference: tx.Reference,
		Status:    tx.Status,
		PlanType:  tx.PlanType,
	})
}

// NewPaymentReference generates a fresh gateway-safe correlation ID. Never
// reused: a retried payment gets a new reference.
func NewPaymentReference() string {
	return "eduhealth_" + uuid.New().String()
}

func formatValidationErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
