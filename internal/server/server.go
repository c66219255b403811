// Package server exposes the wallet service over HTTP with chi.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/cache"
	"custodial-wallet-go/internal/metrics"
	"custodial-wallet-go/internal/models"
	"custodial-wallet-go/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Server struct {
	svc      *api.LedgerService
	hub      *notify.Hub
	cache    cache.Cache
	cfg      models.HTTPConfig
	validate *validator.Validate
	http     *http.Server
}

func New(svc *api.LedgerService, hub *notify.Hub, c cache.Cache, cfg models.HTTPConfig) *Server {
	if c == nil {
		c = cache.NewMemory()
	}
	if hub == nil {
		hub = notify.NewHub(cfg.AllowedOrigins)
	}
	s := &Server{
		svc:      svc,
		hub:      hub,
		cache:    c,
		cfg:      cfg,
		validate: newValidator(),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.rateLimit(s.cfg.RateLimitPerMinute))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/blockradar", s.handleCustodyWebhook)
		r.Post("/paycrest", s.handlePaycrestWebhook)
		r.Post("/alchemypay", s.handleAlchemyPayWebhook)
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/ws", s.handleWS)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", s.handleProfile)
			r.Post("/auth/totp", s.handleEnrollTOTP)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/balances", s.handleBalances)
				r.Get("/transactions", s.handleHistory)
				r.Get("/addresses", s.handleListAddresses)
				r.Post("/addresses", s.handleCreateAddress)
				r.Post("/withdraw", s.handleWithdraw)
				r.Get("/withdrawals", s.handleListWithdrawals)
			})

			r.Route("/offramp", func(r chi.Router) {
				r.Get("/quote", s.handleQuote)
				r.Post("/verify-account", s.handleVerifyAccount)
				r.Get("/institutions", s.handleInstitutions)
				r.Get("/banks", s.handleBanks)
				r.Post("/orders", s.handleCreateOfframp)
				r.Get("/orders", s.handleListOfframps)
				r.Get("/orders/{id}", s.handleGetOfframp)
			})

			r.Post("/onramp/orders", s.handleCreateOnramp)
			r.Post("/onramp/sell", s.handleCreateSellRamp)
			r.Post("/devices", s.handleRegisterDevice)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Get("/users", s.handleListUsers)
				r.Patch("/users/{id}/role", s.handleSetRole)
				r.Patch("/users/{id}/status", s.handleSetStatus)
				r.Get("/offramp", s.handleAdminOfframps)
				r.Post("/offramp/{id}/retry", s.handleRetryOfframp)
				r.Get("/reconcile/custody", s.handleReconcileCustody)
				r.Get("/reconcile/{userId}", s.handleReconcileUser)
			})
		})
	})

	return r
}

func (s *Server) Start() error {
	zap.L().Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	zap.L().Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
