package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/services/payment"
)

type createBillRequest struct {
	Provider    string `json:"provider"`
	PayerName   string `json:"payer_name"`
	PayerEmail  string `json:"payer_email"`
	PayerMobile string `json:"payer_mobile"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

// CreateBill handles POST /api/v1/tenants/{tenantID}/contributions/{contributionID}/bills
func CreateBill(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
		if err != nil || tenantID <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid tenant id", Field: "tenant_id"})
			return
		}

		var req createBillRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
			return
		}

		res, err := svc.CreateBill(r.Context(), payment.CreateBillInput{
			TenantID:       tenantID,
			ContributionID: chi.URLParam(r, "contributionID"),
			Provider:       credential.ParseProviderType(req.Provider),
			PayerName:      req.PayerName,
			PayerEmail:     req.PayerEmail,
			PayerMobile:    req.PayerMobile,
			Description:    req.Description,
			Reference:      req.Reference,
		})
		if err != nil {
			writeError(w, r, err, http.StatusUnprocessableEntity)
			return
		}

		status := http.StatusCreated
		if res.Reused {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
	}
}

// SyncBill handles POST /api/v1/contributions/{contributionID}/sync
func SyncBill(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.SyncBill(r.Context(), chi.URLParam(r, "contributionID"))
		if err != nil {
			writeError(w, r, err, http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ListProviders handles GET /api/v1/providers
func ListProviders(registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": registry.AllInfo()})
	}
}
