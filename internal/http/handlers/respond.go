package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"masjidpay/internal/domain/callback"
	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/provider"
	"masjidpay/internal/services/payment"
	"masjidpay/internal/services/resolver"
)

// PaymentService is the part of payment.Service the handlers use.
type PaymentService interface {
	CreateBill(ctx context.Context, in payment.CreateBillInput) (*payment.BillResult, error)
	ProcessCallback(ctx context.Context, pt provider.ProviderType, payload provider.CallbackPayload, contributionID string) (*payment.CallbackOutcome, error)
	ConfirmReturn(ctx context.Context, pt provider.ProviderType, query provider.CallbackPayload, contributionID string) (*payment.CallbackOutcome, error)
	SyncBill(ctx context.Context, contributionID string) (*payment.CallbackOutcome, error)
	ReplayCallback(ctx context.Context, eventID int64) (*payment.CallbackOutcome, error)
	ListCallbacks(ctx context.Context, contributionID string, limit int) ([]*callback.Event, error)
}

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	BillID string `json:"bill_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors to HTTP statuses. Validation failures use validationStatus.
func statusFor(err error, validationStatus int) int {
	var (
		verr    *provider.ValidationError
		derr    contribution.DomainError
		cerr    *resolver.ConfigurationError
		timeout *provider.GatewayTimeoutError
	)
	switch {
	case errors.As(err, &verr):
		return validationStatus
	case errors.Is(err, payment.ErrMissingBillReference):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, payment.ErrContributionNotFound),
		errors.Is(err, payment.ErrCallbackEventNotFound),
		errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.As(err, &derr):
		return http.StatusConflict
	case errors.Is(err, payment.ErrProviderNotConfigured), errors.As(err, &cerr):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case provider.IsGatewayError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error, validationStatus int) {
	status := statusFor(err, validationStatus)
	body := errorResponse{Error: err.Error()}

	var (
		verr *provider.ValidationError
		perr *payment.PersistenceAfterCreateError
	)
	switch {
	case errors.As(err, &verr):
		body.Field = verr.Field
	case errors.As(err, &perr):
		body.Error = "bill created but not recorded; it will be reconciled manually"
		body.BillID = perr.BillID
	case status == http.StatusServiceUnavailable:
		body.Error = "payment provider unavailable"
	case status == http.StatusInternalServerError:
		body.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, body)
}

// flatten keeps the first value of each key, skipping excluded keys.
func flatten(values map[string][]string, exclude ...string) provider.CallbackPayload {
	out := make(provider.CallbackPayload, len(values))
	for k, v := range values {
		if len(v) == 0 || contains(exclude, k) {
			continue
		}
		out[k] = v[0]
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
