package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const maxBody = 1 << 16

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`

	Minimum   *money.Money `json:"minimum,omitempty"`
	Available *money.Money `json:"available,omitempty"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, code int, kind, msg string) {
	writeJSON(w, log, code, ErrorResponse{Code: kind, Error: msg})
}

// decode reads a single JSON object. Unknown fields and trailing data are
// rejected; an empty body leaves v zero.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return errors.Wrap(err, "invalid request body")
	}

	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}

	return nil
}

// writeLedgerError maps ledger and store errors onto status codes.
func writeLedgerError(w http.ResponseWriter, log *zap.Logger, err error) {
	var v *ledger.ValidationError
	if errors.As(err, &v) {
		resp := ErrorResponse{Code: string(v.Reason), Error: v.Error()}

		switch v.Reason {
		case ledger.BelowMinimum:
			resp.Minimum = &v.Minimum
		case ledger.InsufficientAvailable:
			resp.Available = &v.Available
		}

		writeJSON(w, log, http.StatusBadRequest, resp)
		return
	}

	code, kind := http.StatusInternalServerError, "internal"

	switch {
	case errors.Is(err, store.ErrNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		code, kind = http.StatusConflict, "already_claimed"
	case errors.Is(err, ledger.ErrMilestoneNotReached):
		code, kind = http.StatusConflict, "milestone_not_reached"
	case errors.Is(err, transaction.ErrInvalidTransition):
		code, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, store.ErrExists):
		code, kind = http.StatusConflict, "exists"
	case errors.Is(err, store.ErrConflict):
		code, kind = http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrWrongType):
		code, kind = http.StatusBadRequest, "wrong_type"
	case errors.Is(err, ledger.ErrSelfReferral):
		code, kind = http.StatusBadRequest, "self_referral"
	case errors.Is(err, ledger.ErrAuditMismatch):
		kind = "audit_mismatch"
	}

	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeError(w, log, code, kind, http.StatusText(code))
		return
	}

	writeError(w, log, code, kind, err.Error())
}
