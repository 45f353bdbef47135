package service

import (
	"context"
	"log"
	"time"

	"github.com/eduhealth/backend/internal/repository"
)

// ExpiryService sweeps abandoned payments: transactions still open after the
// configured window move to expired through the store's conditional update,
// so a webhook arriving after the sweep loses the race cleanly.
type ExpiryService struct {
	txRepo   repository.TransactionRepository
	window   time.Duration
	interval time.Duration
}

// NewExpiryService creates a new expiry sweeper.
func NewExpiryService(txRepo repository.TransactionRepository, window, interval time.Duration) *ExpiryService {
	return &ExpiryService{
		txRepo:   txRepo,
		window:   window,
		interval: interval,
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *ExpiryService) Start(ctx context.Context) {
	go func() {
		s.Sweep(context.Background())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(context.Background())
			}
		}
	}()
}

// Sweep expires every open transaction older than the window.
func (s *ExpiryService) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.window)
	n, err := s.txRepo.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("[Expiry] sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Expiry] expired %d abandoned transactions older than %s", n, s.window)
	}
}
