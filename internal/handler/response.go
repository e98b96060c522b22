package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

// Reason codes not covered by the voucher failure taxonomy.
const (
	reasonNotFound  = "NotFound"
	reasonNoChanges = "NoChanges"
	reasonInternal  = "Internal"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and reason.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, reason := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Code: status, Message: msg, Reason: reason})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, voucher.ErrNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, voucher.ErrNoChanges):
		return http.StatusBadRequest, reasonNoChanges
	case errors.Is(err, voucher.ErrConditionNotFound), errors.Is(err, usage.ErrInvalidCriteria):
		return http.StatusBadRequest, voucher.ReasonInvalidInput
	}
	switch reason := voucher.Reason(err); reason {
	case "":
		return http.StatusInternalServerError, reasonInternal
	case voucher.ReasonInvalidInput:
		return http.StatusBadRequest, reason
	default:
		return http.StatusUnprocessableEntity, reason
	}
}
