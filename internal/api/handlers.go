package api

import (
	"net/http"
	"strconv"

	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultLimit = 10

type RegisterRequest struct {
	Username     string `json:"username"`
	ReferralCode string `json:"referralCode"`
}

type DepositRequest struct {
	Amount money.Money `json:"amount"`
}

type WithdrawalRequest struct {
	Amount      money.Money `json:"amount"`
	Destination string      `json:"destination"`
}

type BonusResponse struct {
	Amount money.Money `json:"amount"`
}

type ReferralResponse struct {
	Code     string `json:"code"`
	Valid    bool   `json:"valid"`
	Username string `json:"username"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	acc, err := s.l.Register(r.Context(), userID(r.Context()), req.Username, req.ReferralCode)
	if err != nil && acc == nil {
		writeLedgerError(w, s.log, err)
		return
	}

	// the account exists; only the referrer bookkeeping failed and
	// POST /v1/internal/accounts/{id}/referral-retry replays it
	if err != nil {
		s.log.Warn("referral not recorded", zap.String("account", acc.ID), zap.Error(err))
	}

	writeJSON(w, s.log, http.StatusCreated, acc)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, s.log, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	v, err := s.l.Snapshot(r.Context(), userID(r.Context()), s.now())
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	if len(v.Transactions) > limit {
		v.Transactions = v.Transactions[:limit]
	}

	writeJSON(w, s.log, http.StatusOK, v)
}

func (s *Server) createDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	tx, err := s.l.CreateDeposit(r.Context(), userID(r.Context()), req.Amount)
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusCreated, tx)
}

func (s *Server) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if err := decode(r, &req); err != nil {
		writeError(w, s.log, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	tx, err := s.l.CreateWithdrawal(r.Context(), userID(r.Context()), req.Amount, req.Destination)
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusCreated, tx)
}

func (s *Server) bonusStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.l.Bonuses.Status(r.Context(), userID(r.Context()))
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, st)
}

func (s *Server) claimChatBonus(w http.ResponseWriter, r *http.Request) {
	amount, err := s.l.ClaimChatBonus(r.Context(), userID(r.Context()))
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, BonusResponse{Amount: amount})
}

func (s *Server) claimMilestoneBonus(w http.ResponseWriter, r *http.Request) {
	amount, err := s.l.ClaimMilestoneBonus(r.Context(), userID(r.Context()))
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, BonusResponse{Amount: amount})
}

func (s *Server) lookupReferral(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	owner, err := s.l.LookupReferral(r.Context(), code)
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, ReferralResponse{Code: code, Valid: true, Username: owner.Username})
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	tx, err := s.l.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, tx)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	tx, err := s.l.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, tx)
}

func (s *Server) retryReferral(w http.ResponseWriter, r *http.Request) {
	if err := s.l.RetryReferralCredit(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryReferralRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.l.RetryReferralRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request) {
	acc, err := s.l.Settle(r.Context(), chi.URLParam(r, "id"), s.now())
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, acc)
}

type AuditResponse struct {
	AccountID  string        `json:"accountId"`
	Consistent bool          `json:"consistent"`
	Log        ledger.Totals `json:"log"`
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	totals, err := s.l.Audit(r.Context(), id)
	if err != nil {
		writeLedgerError(w, s.log, err)
		return
	}

	writeJSON(w, s.log, http.StatusOK, AuditResponse{AccountID: id, Consistent: true, Log: totals})
}
