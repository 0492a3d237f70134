package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"greencredits/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps domain errors onto HTTP statuses. Server-side
// failures are logged and never echoed to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		if status == http.StatusBadGateway {
			slog.Warn("request failed on external ledger", "error", err)
			writeError(w, status, code, "ledger notification failed")
			return
		}
		slog.Error("request failed", "error", err)
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrParcelNotFound):
		return http.StatusNotFound, "parcel_not_found"
	case errors.Is(err, model.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, model.ErrInsufficientCredits):
		return http.StatusConflict, "insufficient_credits"
	case errors.Is(err, model.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, model.ErrTransferPending):
		return http.StatusConflict, "transfer_pending"
	case errors.Is(err, model.ErrTransferAbandoned):
		return http.StatusConflict, "transfer_abandoned"
	case errors.Is(err, model.ErrNotCommitted):
		return http.StatusConflict, "transfer_not_committed"
	case errors.Is(err, model.ErrParcelExists):
		return http.StatusConflict, "parcel_exists"
	case errors.Is(err, model.ErrInvalidReceipt):
		return http.StatusUnauthorized, "invalid_receipt"
	case errors.Is(err, model.ErrNotification):
		return http.StatusBadGateway, "ledger_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
