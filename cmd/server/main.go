package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eduhealth/backend/internal/config"
	"github.com/eduhealth/backend/internal/handler"
	appMiddleware "github.com/eduhealth/backend/internal/middleware"
	"github.com/eduhealth/backend/internal/repository"
	"github.com/eduhealth/backend/internal/service"
	"github.com/eduhealth/backend/internal/ws"
	"github.com/eduhealth/backend/pkg/crypto"
	"github.com/eduhealth/backend/pkg/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if present (for local development)
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	log.Println("database connected & migrated")

	// Initialize encryptor for card authorizations at rest
	enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("encryption error: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)

	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, userRepo)

	// Seed admin user on first startup
	if err := authSvc.SeedAdmin(ctx); err != nil {
		log.Fatalf("admin seed error: %v", err)
	}

	// Payment gateway
	gateway := payment.NewPaystackGateway(payment.PaystackConfig{
		SecretKey:     cfg.PaystackSecretKey,
		BaseURL:       cfg.PaystackBaseURL,
		Timeout:       cfg.GatewayTimeout,
		VerifyRetries: cfg.VerifyRetries,
		VerifyBackoff: cfg.VerifyBackoff,
	})

	// Payment event stream to the frontend
	hub := ws.NewPaymentHub(authSvc)

	subSvc := service.NewSubscriptionService(txRepo, userRepo, gateway, enc, hub, cfg.CallbackURL)

	// Sweep abandoned payments to expired
	expirySvc := service.NewExpiryService(txRepo, cfg.PaymentExpiryWindow, cfg.PaymentSweepInterval)
	expirySvc.Start(ctx)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authSvc)
	healthHandler := handler.NewHealthHandler(db)
	plansHandler := handler.NewPlansHandler()
	paymentHandler := handler.NewPaymentHandler(subSvc)
	webhookHandler := handler.NewWebhookHandler(gateway, subSvc, eventRepo)
	adminHandler := handler.NewAdminHandler(txRepo, userRepo, authSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Paystack-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.HandlePaystack) // Signed gateway callback

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(authSvc))

		// Auth
		r.Post("/api/auth/logout", authHandler.Logout)
		r.Get("/api/auth/me", authHandler.Me)

		// Payments
		r.Post("/api/payment/initialize", paymentHandler.Initialize)
		r.Get("/api/payment/verify/{reference}", paymentHandler.Verify)
		r.Get("/api/payment/subscription", paymentHandler.GetSubscription)
		r.Get("/api/payment/transactions", paymentHandler.ListTransactions)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/stats", adminHandler.GetStats)
			r.Get("/api/admin/users", adminHandler.ListUsers)
		})
	})

	// WebSocket payment event stream (auth via query param)
	r.HandleFunc("/ws/payments", hub.Handle)

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("EduHealth payments backend listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
