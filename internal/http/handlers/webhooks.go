package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"masjidpay/internal/provider"
)

const maxCallbackBody = 64 << 10

// GatewayCallback handles POST /webhooks/{provider}/callback?contribution_id=.
// Gateways retry anything other than 200, so only a verified, applied (or
// already applied) callback is acknowledged.
func GatewayCallback(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pt := provider.ProviderType(chi.URLParam(r, "provider"))

		r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid form body"})
			return
		}
		payload := flatten(r.PostForm)
		if len(payload) == 0 {
			payload = flatten(r.URL.Query(), "contribution_id")
		}

		out, err := svc.ProcessCallback(r.Context(), pt, payload, r.URL.Query().Get("contribution_id"))
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GatewayReturn handles the payer's redirect back from the hosted payment page.
func GatewayReturn(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pt := provider.ProviderType(chi.URLParam(r, "provider"))
		query := flatten(r.URL.Query(), "contribution_id")

		out, err := svc.ConfirmReturn(r.Context(), pt, query, r.URL.Query().Get("contribution_id"))
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
