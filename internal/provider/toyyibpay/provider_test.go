package toyyibpay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/toyyibpay"
)

const secret = "w5x7srq7-rx5r-3t89-4r2w-ea3y2nd7ywxa"

func testConfig() *credential.ProviderConfig {
	cfg := credential.ProviderConfig{TenantID: 3, ProviderType: credential.ProviderToyyibPay, IsActive: true, IsSandbox: true}
	return cfg.WithCredentials(map[string]string{
		credential.FieldSecretKey:    secret,
		credential.FieldCategoryCode: "cat01",
	})
}

const longDescription = "Sumbangan Tabung Pembinaan Masjid Al-Falah Kampung Baru 2024"

func billRequest() provider.BillCreateRequest {
	return provider.BillCreateRequest{
		TenantID:       3,
		ContributionID: "9a1b2c3d-0000-4000-8000-000000000001",
		Amount:         decimal.RequireFromString("25.50"),
		PayerName:      "Ali bin Abu",
		PayerEmail:     "ali@example.com",
		PayerMobile:    "0191234567",
		Description:    longDescription,
		CallbackURL:    "https://pay.example.com/webhooks/toyyibpay/callback?contribution_id=9a1b2c3d-0000-4000-8000-000000000001",
		RedirectURL:    "https://pay.example.com/webhooks/toyyibpay/return?contribution_id=9a1b2c3d-0000-4000-8000-000000000001",
	}
}

func TestCreateBill(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/index.php/api/createBill", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, secret, r.PostForm.Get("userSecretKey"))
		require.Equal(t, "cat01", r.PostForm.Get("categoryCode"))
		require.Equal(t, "2550", r.PostForm.Get("billAmount"))
		require.Equal(t, "1", r.PostForm.Get("billPriceSetting"))
		require.Equal(t, "1", r.PostForm.Get("billPayorInfo"))
		require.Equal(t, "60191234567", r.PostForm.Get("billPhone"))
		require.Equal(t, "9a1b2c3d-0000-4000-8000-000000000001", r.PostForm.Get("billExternalReferenceNo"))

		name := r.PostForm.Get("billName")
		require.Equal(t, 30, utf8.RuneCountInString(name))
		require.Equal(t, "Sumbangan Tabung Pembinaan ...", name)
		require.Equal(t, longDescription, r.PostForm.Get("billDescription"))

		_, _ = w.Write([]byte(`[{"BillCode":"gcbhict9"}]`))
	}))
	defer srv.Close()

	p := toyyibpay.New(srv.Client(), toyyibpay.Endpoints{Production: "https://unused.invalid", Sandbox: srv.URL})
	handle, err := p.CreateBill(context.Background(), testConfig(), billRequest())
	require.NoError(t, err)
	require.Equal(t, "gcbhict9", handle.BillID)
	require.Equal(t, srv.URL+"/gcbhict9", handle.PaymentURL)
	require.Equal(t, int64(2550), handle.AmountMinor)
	require.Equal(t, "Sumbangan Tabung Pembinaan ...", handle.DisplayName)
	require.Equal(t, "cat01", handle.CollectionID)
	require.Equal(t, int32(1), hits.Load())
}

func TestCreateBillRequiresMobile(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	p := toyyibpay.New(srv.Client(), toyyibpay.Endpoints{Production: srv.URL, Sandbox: srv.URL})
	req := billRequest()
	req.PayerMobile = "  "
	_, err := p.CreateBill(context.Background(), testConfig(), req)

	var verr *provider.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "payer_mobile", verr.Field)
	require.Zero(t, hits.Load())
}

func TestCreateBillMalformedResponse(t *testing.T) {
	for _, body := range []string{`KEY-DID-NOT-EXIST`, `[]`, `[{"status":"error","msg":"[KEY-DID-NOT-EXIST]"}]`, `{"BillCode":"x"}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		p := toyyibpay.New(srv.Client(), toyyibpay.Endpoints{Production: srv.URL, Sandbox: srv.URL})
		_, err := p.CreateBill(context.Background(), testConfig(), billRequest())
		srv.Close()

		var respErr *provider.GatewayResponseError
		require.ErrorAs(t, err, &respErr, body)
		require.Equal(t, body, respErr.Body)
	}
}

func TestCreateBillGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	p := toyyibpay.New(srv.Client(), toyyibpay.Endpoints{Production: srv.URL, Sandbox: srv.URL})
	_, err := p.CreateBill(context.Background(), testConfig(), billRequest())

	var reqErr *provider.GatewayRequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
	require.Equal(t, "upstream down", reqErr.Body)
}

func TestBillNameShortDescription(t *testing.T) {
	require.Equal(t, "Infaq Jumaat", toyyibpay.BillName("Infaq Jumaat"))
	require.Equal(t, "Sumbangan", toyyibpay.BillName(""))
	require.Equal(t, 30, utf8.RuneCountInString(toyyibpay.BillName(longDescription)))
}

func TestGetBill(t *testing.T) {
	responses := map[string]string{
		"paid":    `[{"billpaymentStatus":"3","billpaymentAmount":"25.50"},{"billpaymentStatus":"1","billpaymentAmount":"25.50","billpaymentInvoiceNo":"TP123"}]`,
		"failed":  `[{"billpaymentStatus":"3","billpaymentAmount":"25.50"}]`,
		"pending": `[{"billpaymentStatus":"4","billpaymentAmount":"25.50"}]`,
		"none":    `[]`,
		"broken":  `{"oops":true}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/index.php/api/getBillTransactions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte(responses[r.PostForm.Get("billCode")]))
	}))
	defer srv.Close()
	p := toyyibpay.New(srv.Client(), toyyibpay.Endpoints{Production: srv.URL, Sandbox: srv.URL})

	st, err := p.GetBill(context.Background(), testConfig(), "paid")
	require.NoError(t, err)
	require.Equal(t, contribution.StatusCompleted, st.Status)
	require.True(t, st.AmountKnown)
	require.Equal(t, int64(2550), st.AmountMinor)
	require.Equal(t, "TP123", st.Raw["billpaymentInvoiceNo"])

	st, err = p.GetBill(context.Background(), testConfig(), "failed")
	require.NoError(t, err)
	require.Equal(t, contribution.StatusFailed, st.Status)

	st, err = p.GetBill(context.Background(), testConfig(), "pending")
	require.NoError(t, err)
	require.Equal(t, contribution.StatusPending, st.Status)

	st, err = p.GetBill(context.Background(), testConfig(), "none")
	require.NoError(t, err)
	require.Equal(t, contribution.StatusPending, st.Status)
	require.False(t, st.AmountKnown)

	_, err = p.GetBill(context.Background(), testConfig(), "broken")
	var respErr *provider.GatewayResponseError
	require.ErrorAs(t, err, &respErr)
}

func signedCallback(status string) provider.CallbackPayload {
	payload := provider.CallbackPayload{
		"refno":            "TP2403011234",
		"status":           status,
		"reason":           "Approved",
		"billcode":         "gcbhict9",
		"order_id":         "9a1b2c3d-0000-4000-8000-000000000001",
		"amount":           "25.50",
		"transaction_time": "2024-03-01 10:00:00",
	}
	payload["hash"] = toyyibpay.Hash(secret, payload["refno"], payload["amount"], status)
	return payload
}

func TestVerifyCallback(t *testing.T) {
	p := toyyibpay.New(nil, toyyibpay.Endpoints{})
	cfg := testConfig()

	payload := signedCallback("1")
	require.True(t, p.VerifyCallback(cfg, payload))

	payload["status"] = "3"
	require.False(t, p.VerifyCallback(cfg, payload))

	payload = signedCallback("1")
	delete(payload, "refno")
	require.False(t, p.VerifyCallback(cfg, payload))

	require.False(t, p.VerifyCallback(&credential.ProviderConfig{}, signedCallback("1")))
	require.False(t, p.VerifyCallback(cfg, provider.CallbackPayload{}))
}

func TestParseCallback(t *testing.T) {
	p := toyyibpay.New(nil, toyyibpay.Endpoints{})

	res, err := p.ParseCallback(signedCallback("1"))
	require.NoError(t, err)
	require.Equal(t, "gcbhict9", res.BillID)
	require.Equal(t, contribution.StatusCompleted, res.Status)
	require.Equal(t, "TP2403011234", res.Reference)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("25.5")))

	res, err = p.ParseCallback(signedCallback("3"))
	require.NoError(t, err)
	require.Equal(t, contribution.StatusFailed, res.Status)

	res, err = p.ParseCallback(signedCallback("2"))
	require.NoError(t, err)
	require.Equal(t, contribution.StatusPending, res.Status)

	res, err = p.ParseCallback(provider.CallbackPayload{"billcode": "x", "status_id": "1", "transaction_id": "T1"})
	require.NoError(t, err)
	require.Equal(t, contribution.StatusCompleted, res.Status)
	require.Equal(t, "T1", res.Reference)
	require.False(t, res.AmountKnown)

	_, err = p.ParseCallback(provider.CallbackPayload{"billcode": "x", "status": "9"})
	require.Error(t, err)
	_, err = p.ParseCallback(provider.CallbackPayload{"status": "1"})
	require.Error(t, err)
}

func TestBuildPaymentURL(t *testing.T) {
	p := toyyibpay.New(nil, toyyibpay.Endpoints{})
	require.Equal(t, "https://dev.toyyibpay.com/abc", p.BuildPaymentURL(testConfig(), "abc"))

	prod := credential.ProviderConfig{}
	require.Equal(t, "https://toyyibpay.com/abc", p.BuildPaymentURL(&prod, "abc"))

	id, ok := p.ExtractBillID(provider.CallbackPayload{"billcode": " abc "})
	require.True(t, ok)
	require.Equal(t, "abc", id)
}
