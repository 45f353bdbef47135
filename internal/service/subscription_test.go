package service

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/eduhealth/backend/internal/domain"
	"github.com/eduhealth/backend/pkg/payment"
)

// fakeTxStore is an in-memory transaction store with the same conditional
// finalize semantics as the PostgreSQL implementation.
type fakeTxStore struct {
	mu  sync.Mutex
	txs map[string]*domain.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[string]*domain.Transaction)}
}

func (s *fakeTxStore) Create(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txs[t.Reference] = &cp
	return nil
}

func (s *fakeTxStore) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return nil, domain.ErrNotFound("transaction not found")
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTxStore) MarkPending(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return nil, domain.ErrNotFound("transaction not found")
	}
	if t.Status != domain.TxInitialized && t.Status != domain.TxPending {
		return nil, domain.ErrInvalidState("cannot mark pending")
	}
	t.Status = domain.TxPending
	cp := *t
	return &cp, nil
}

func (s *fakeTxStore) TryFinalize(ctx context.Context, reference string, outcome domain.Outcome, gatewayTxID string) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return nil, false, domain.ErrNotFound("transaction not found")
	}
	if t.Status != domain.TxInitialized && t.Status != domain.TxPending {
		cp := *t
		return &cp, false, nil
	}
	t.Status = outcome.Status()
	if gatewayTxID != "" {
		id := gatewayTxID
		t.GatewayTxID = &id
	}
	if t.Status == domain.TxVerified {
		now := time.Now().UTC()
		t.VerifiedAt = &now
	}
	cp := *t
	return &cp, true, nil
}

func (s *fakeTxStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.txs {
		if (t.Status == domain.TxInitialized || t.Status == domain.TxPending) && t.CreatedAt.Before(cutoff) {
			t.Status = domain.TxExpired
			n++
		}
	}
	return n, nil
}

func (s *fakeTxStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.txs {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeTxStore) CountByStatus(ctx context.Context) (map[domain.TxStatus]int64, error) {
	return nil, nil
}

func (s *fakeTxStore) VerifiedRevenue(ctx context.Context) (int64, error) {
	return 0, nil
}

// fakeUserStore tracks subscription mutations so tests can assert at-most-once
// activation.
type fakeUserStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	setCalls int
}

func newFakeUserStore(users ...*domain.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*domain.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) Create(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) FindByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) Exists(ctx context.Context, email string) (bool, error) {
	u, _ := s.FindByEmail(ctx, email)
	return u != nil, nil
}

func (s *fakeUserStore) ListAll(ctx context.Context) ([]*domain.User, error) {
	return nil, nil
}

func (s *fakeUserStore) CountPremium(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeUserStore) SetSubscription(ctx context.Context, userID string, sub domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound("user not found")
	}
	u.SubscriptionType = sub.Type
	u.ActivatedAt = sub.ActivatedAt
	u.ExpiresAt = sub.ExpiresAt
	s.setCalls++
	return nil
}

func (s *fakeUserStore) SaveCardAuthorization(ctx context.Context, userID, encrypted string) error {
	return nil
}

func (s *fakeUserStore) subscription(id string) domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Subscription()
}

func (s *fakeUserStore) activations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

func testUser() *domain.User {
	return &domain.User{
		ID:               "user-1",
		Email:            "student@example.com",
		Role:             "user",
		SubscriptionType: domain.SubscriptionFree,
	}
}

func newTestService(txs *fakeTxStore, users *fakeUserStore, gw payment.Gateway) *SubscriptionService {
	if gw == nil {
		gw = payment.NewMockGateway()
	}
	return NewSubscriptionService(txs, users, gw, nil, nil, "http://localhost/callback")
}

func pendingTx(store *fakeTxStore, reference string) *domain.Transaction {
	t := &domain.Transaction{
		Reference:   reference,
		UserID:      "user-1",
		PlanType:    "monthly",
		AmountMinor: 17900,
		Currency:    "ZAR",
		Status:      domain.TxPending,
		CreatedAt:   time.Now().UTC(),
	}
	store.Create(context.Background(), t)
	return t
}

func TestInitiatePayment_MonthlyPlan(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)

	resp, err := svc.InitiatePayment(context.Background(), "user-1", &domain.InitiatePaymentRequest{PlanType: "monthly"})
	if err != nil {
		t.Fatalf("InitiatePayment failed: %v", err)
	}

	if resp.AmountMinor != 17900 || resp.Currency != "ZAR" {
		t.Errorf("expected R179.00 ZAR, got %d %s", resp.AmountMinor, resp.Currency)
	}
	if resp.AuthorizationURL == "" {
		t.Error("expected an authorization URL")
	}

	stored, err := txs.Get(context.Background(), resp.Reference)
	if err != nil {
		t.Fatalf("transaction not stored: %v", err)
	}
	if stored.Status != domain.TxPending {
		t.Errorf("expected pending after gateway accept, got %s", stored.Status)
	}
}

func TestInitiatePayment_FreshReferencePerAttempt(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)

	first, err := svc.InitiatePayment(context.Background(), "user-1", &domain.InitiatePaymentRequest{PlanType: "monthly"})
	if err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}
	second, err := svc.InitiatePayment(context.Background(), "user-1", &domain.InitiatePaymentRequest{PlanType: "monthly"})
	if err != nil {
		t.Fatalf("second attempt failed: %v", err)
	}
	if first.Reference == second.Reference {
		t.Fatalf("references must never be reused across attempts: %s", first.Reference)
	}
}

func TestInitiatePayment_InvalidPlan(t *testing.T) {
	svc := newTestService(newFakeTxStore(), newFakeUserStore(testUser()), nil)

	_, err := svc.InitiatePayment(context.Background(), "user-1", &domain.InitiatePaymentRequest{PlanType: "lifetime"})
	if err == nil {
		t.Fatal("expected validation error for unknown plan")
	}
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestReconcile_DuplicateWebhookActivatesOnce(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)
	pendingTx(txs, "eduhealth_r1")

	sig := GatewaySignal{Reference: "eduhealth_r1", Outcome: domain.OutcomeVerified, GatewayTxID: "G1"}

	first, err := svc.Reconcile(context.Background(), sig)
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	if !first.Applied || !first.SubscriptionActivated {
		t.Fatalf("first signal should apply and activate, got %+v", first)
	}

	sub := users.subscription("user-1")
	if sub.Type != domain.SubscriptionPremium {
		t.Fatalf("expected premium subscription, got %s", sub.Type)
	}
	wantExpiry := time.Now().UTC().AddDate(0, 0, 30)
	if sub.ExpiresAt == nil || sub.ExpiresAt.Sub(wantExpiry) > time.Minute || wantExpiry.Sub(*sub.ExpiresAt) > time.Minute {
		t.Errorf("expected expiry ~now+30d, got %v", sub.ExpiresAt)
	}
	firstExpiry := *sub.ExpiresAt

	// The gateway redelivers the same event.
	second, err := svc.Reconcile(context.Background(), sig)
	if err != nil {
		t.Fatalf("duplicate reconcile errored: %v", err)
	}
	if second.Applied || second.SubscriptionActivated {
		t.Fatalf("duplicate signal must be a no-op, got %+v", second)
	}
	if second.FinalStatus != domain.TxVerified {
		t.Errorf("duplicate should report existing final status, got %s", second.FinalStatus)
	}
	if got := users.subscription("user-1"); !got.ExpiresAt.Equal(firstExpiry) {
		t.Errorf("duplicate delivery changed expiry: %v != %v", got.ExpiresAt, firstExpiry)
	}
	if users.activations() != 1 {
		t.Errorf("expected exactly one subscription write, got %d", users.activations())
	}
}

func TestReconcile_FailedOutcomeDoesNotActivate(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)
	pendingTx(txs, "eduhealth_r2")

	res, err := svc.Reconcile(context.Background(), GatewaySignal{Reference: "eduhealth_r2", Outcome: domain.OutcomeFailed})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !res.Applied || res.SubscriptionActivated {
		t.Fatalf("failed outcome should apply without activation, got %+v", res)
	}
	if sub := users.subscription("user-1"); sub.Type != domain.SubscriptionFree {
		t.Errorf("subscription must stay free, got %s", sub.Type)
	}
}

func TestReconcile_UnknownReferenceRejected(t *testing.T) {
	svc := newTestService(newFakeTxStore(), newFakeUserStore(testUser()), nil)

	_, err := svc.Reconcile(context.Background(), GatewaySignal{Reference: "eduhealth_ghost", Outcome: domain.OutcomeVerified})
	if err == nil {
		t.Fatal("expected not-found for unsolicited reference")
	}
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != http.StatusNotFound {
		t.Errorf("expected 404-coded error, got %v", err)
	}
}

func TestReconcile_ConcurrentSignalsApplyExactlyOnce(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)
	pendingTx(txs, "eduhealth_race")

	const racers = 16
	results := make(chan *domain.ReconcileResult, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Reconcile(context.Background(), GatewaySignal{
				Reference:   "eduhealth_race",
				Outcome:     domain.OutcomeVerified,
				GatewayTxID: "G1",
			})
			if err != nil {
				t.Errorf("reconcile errored: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for res := range results {
		if res.Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied signal, got %d", applied)
	}
	if users.activations() != 1 {
		t.Fatalf("expected exactly one subscription write, got %d", users.activations())
	}
}

func TestReconcile_StackingRenewalExtendsFromCurrentExpiry(t *testing.T) {
	txs := newFakeTxStore()
	user := testUser()
	now := time.Now().UTC()
	remaining := now.AddDate(0, 0, 10)
	user.SubscriptionType = domain.SubscriptionPremium
	user.ActivatedAt = &now
	user.ExpiresAt = &remaining
	users := newFakeUserStore(user)
	svc := newTestService(txs, users, nil)
	pendingTx(txs, "eduhealth_renew")

	res, err := svc.Reconcile(context.Background(), GatewaySignal{Reference: "eduhealth_renew", Outcome: domain.OutcomeVerified})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !res.SubscriptionActivated {
		t.Fatal("renewal should activate")
	}

	sub := users.subscription("user-1")
	want := remaining.AddDate(0, 0, 30)
	if sub.ExpiresAt == nil || !sub.ExpiresAt.Equal(want) {
		t.Errorf("renewal must stack on remaining access: want %v, got %v", want, sub.ExpiresAt)
	}
}

func TestVerifyPayment_PollBeforeWebhook(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	gw := payment.NewMockGateway()
	gw.VerifyResults["eduhealth_r1"] = &payment.VerifyResult{
		Status:      payment.VerifySuccess,
		GatewayTxID: "G1",
		AmountMinor: 17900,
		Currency:    "ZAR",
	}
	svc := newTestService(txs, users, gw)
	pendingTx(txs, "eduhealth_r1")

	res, err := svc.VerifyPayment(context.Background(), "user-1", "eduhealth_r1")
	if err != nil {
		t.Fatalf("poll verify failed: %v", err)
	}
	if !res.Applied || !res.SubscriptionActivated {
		t.Fatalf("poll should finalize and activate, got %+v", res)
	}

	// The webhook for the same reference arrives later.
	late, err := svc.Reconcile(context.Background(), GatewaySignal{Reference: "eduhealth_r1", Outcome: domain.OutcomeVerified, GatewayTxID: "G1"})
	if err != nil {
		t.Fatalf("late webhook errored: %v", err)
	}
	if late.Applied {
		t.Error("late webhook after poll must be a no-op")
	}
	if users.activations() != 1 {
		t.Errorf("expected exactly one activation, got %d", users.activations())
	}
}

func TestVerifyPayment_AmountMismatchIsTamper(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	gw := payment.NewMockGateway()
	gw.VerifyResults["eduhealth_r1"] = &payment.VerifyResult{
		Status:      payment.VerifySuccess,
		GatewayTxID: "G1",
		AmountMinor: 100, // does not match the stored 17900
		Currency:    "ZAR",
	}
	svc := newTestService(txs, users, gw)
	pendingTx(txs, "eduhealth_r1")

	_, err := svc.VerifyPayment(context.Background(), "user-1", "eduhealth_r1")
	if err == nil {
		t.Fatal("expected tamper error on amount mismatch")
	}
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != http.StatusConflict {
		t.Errorf("expected conflict-coded tamper error, got %v", err)
	}

	stored, _ := txs.Get(context.Background(), "eduhealth_r1")
	if stored.Status != domain.TxFailed {
		t.Errorf("tampered transaction must be failed, got %s", stored.Status)
	}
	if sub := users.subscription("user-1"); sub.Type != domain.SubscriptionFree {
		t.Errorf("tampered payment must never activate, got %s", sub.Type)
	}
}

func TestVerifyPayment_GatewayStillPendingLeavesTransactionOpen(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, payment.NewMockGateway()) // mock defaults to pending
	pendingTx(txs, "eduhealth_r1")

	res, err := svc.VerifyPayment(context.Background(), "user-1", "eduhealth_r1")
	if err != nil {
		t.Fatalf("poll verify failed: %v", err)
	}
	if res.Applied {
		t.Error("unsettled charge must not finalize")
	}

	stored, _ := txs.Get(context.Background(), "eduhealth_r1")
	if stored.Status != domain.TxPending {
		t.Errorf("transaction must stay pending, got %s", stored.Status)
	}
}

func TestVerifyPayment_OtherUsersTransactionHidden(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)
	pendingTx(txs, "eduhealth_r1")

	_, err := svc.VerifyPayment(context.Background(), "user-2", "eduhealth_r1")
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != http.StatusNotFound {
		t.Errorf("expected not-found for foreign transaction, got %v", err)
	}
}

func TestExpiredTransactionRejectsLateWebhook(t *testing.T) {
	txs := newFakeTxStore()
	users := newFakeUserStore(testUser())
	svc := newTestService(txs, users, nil)

	old := pendingTx(txs, "eduhealth_stale")
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	txs.Create(context.Background(), old)

	sweeper := NewExpiryService(txs, 24*time.Hour, time.Hour)
	sweeper.Sweep(context.Background())

	stored, _ := txs.Get(context.Background(), "eduhealth_stale")
	if stored.Status != domain.TxExpired {
		t.Fatalf("expected expired after sweep, got %s", stored.Status)
	}

	// A webhook limping in after the sweep must lose.
	res, err := svc.Reconcile(context.Background(), GatewaySignal{Reference: "eduhealth_stale", Outcome: domain.OutcomeVerified, GatewayTxID: "G9"})
	if err != nil {
		t.Fatalf("late webhook errored: %v", err)
	}
	if res.Applied || res.FinalStatus != domain.TxExpired {
		t.Fatalf("late webhook must be rejected by the expired state, got %+v", res)
	}
	if users.activations() != 0 {
		t.Errorf("expired transaction must never activate, got %d writes", users.activations())
	}
}
