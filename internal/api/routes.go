// Package api exposes the ledger over HTTP for the chat front end and for the
// payment collaborators that resolve pending transactions.
package api

import (
	"net/http"
	"time"

	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	l   *ledger.Ledger
	log *zap.Logger
	now func() time.Time
}

type Option func(*Server)

// WithClock sets the instant snapshots are evaluated at.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(l *ledger.Ledger, log *zap.Logger, opts ...Option) *Server {
	s := &Server{l: l, log: log, now: time.Now}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.log, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.identified)

			r.Post("/account", s.register)
			r.Get("/account", s.snapshot)

			r.Post("/deposits", s.createDeposit)
			r.Post("/withdrawals", s.createWithdrawal)

			r.Get("/bonuses", s.bonusStatus)
			r.Post("/bonuses/chat", s.claimChatBonus)
			r.Post("/bonuses/milestone", s.claimMilestoneBonus)
		})

		r.Get("/referrals/{code}", s.lookupReferral)

		r.Route("/internal", func(r chi.Router) {
			r.Post("/transactions/{id}/confirm", s.confirm)
			r.Post("/transactions/{id}/reject", s.reject)
			r.Post("/transactions/{id}/referral-retry", s.retryReferral)

			r.Post("/accounts/{id}/settle", s.settle)
			r.Post("/accounts/{id}/referral-retry", s.retryReferralRecord)
			r.Get("/accounts/{id}/audit", s.audit)
		})
	})

	return r
}
