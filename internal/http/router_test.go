package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"masjidpay/internal/config"
	"masjidpay/internal/domain/callback"
	"masjidpay/internal/domain/contribution"
	httpx "masjidpay/internal/http"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/billplz"
	"masjidpay/internal/provider/toyyibpay"
	"masjidpay/internal/services/payment"
	"masjidpay/internal/services/resolver"
)

const contribID = "0f8fad5b-d9cb-469f-a165-70867728950e"

type fakePayments struct {
	err error

	createIn       payment.CreateBillInput
	callbackPT     provider.ProviderType
	callbackData   provider.CallbackPayload
	callbackContID string
	replayID       int64
}

func (f *fakePayments) CreateBill(_ context.Context, in payment.CreateBillInput) (*payment.BillResult, error) {
	f.createIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &payment.BillResult{ContributionID: in.ContributionID, Provider: in.Provider, BillID: "b1", PaymentURL: "https://pay/b1"}, nil
}

func (f *fakePayments) ProcessCallback(_ context.Context, pt provider.ProviderType, payload provider.CallbackPayload, id string) (*payment.CallbackOutcome, error) {
	f.callbackPT, f.callbackData, f.callbackContID = pt, payload, id
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CallbackOutcome{ContributionID: id, Status: contribution.StatusCompleted, Applied: true}, nil
}

func (f *fakePayments) ConfirmReturn(_ context.Context, pt provider.ProviderType, q provider.CallbackPayload, id string) (*payment.CallbackOutcome, error) {
	f.callbackPT, f.callbackData, f.callbackContID = pt, q, id
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CallbackOutcome{ContributionID: id, Status: contribution.StatusCompleted}, nil
}

func (f *fakePayments) SyncBill(_ context.Context, id string) (*payment.CallbackOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CallbackOutcome{ContributionID: id, Status: contribution.StatusPending}, nil
}

func (f *fakePayments) ReplayCallback(_ context.Context, id int64) (*payment.CallbackOutcome, error) {
	f.replayID = id
	if f.err != nil {
		return nil, f.err
	}
	return &payment.CallbackOutcome{Status: contribution.StatusCompleted}, nil
}

func (f *fakePayments) ListCallbacks(_ context.Context, id string, _ int) ([]*callback.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*callback.Event{{ID: 1, Provider: "billplz", ContributionID: id}}, nil
}

func newRouter(svc *fakePayments) http.Handler {
	cfg := config.Cfg{Sec: config.SecurityCfg{APIToken: "api-token", AdminToken: "admin-token"}}
	registry := provider.NewRegistry(billplz.New(nil, billplz.Endpoints{}), toyyibpay.New(nil, toyyibpay.Endpoints{}))
	return httpx.NewRouter(httpx.RouterDependencies{
		Config:   cfg,
		Payments: svc,
		Registry: registry,
		Metrics:  http.NotFoundHandler(),
	})
}

func postCallback(h http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billplz/callback?contribution_id="+contribID, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackPassesPayload(t *testing.T) {
	svc := &fakePayments{}
	rec := postCallback(newRouter(svc), url.Values{"id": {"b1"}, "paid": {"true"}, "x_signature": {"sig"}})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, provider.ProviderBillplz, svc.callbackPT)
	require.Equal(t, contribID, svc.callbackContID)
	require.Equal(t, "true", svc.callbackData["paid"])
	require.NotContains(t, svc.callbackData, "contribution_id")

	var out payment.CallbackOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Applied)
}

func TestCallbackStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{payment.ErrMissingBillReference, http.StatusBadRequest},
		{&provider.ValidationError{Field: "paid", Message: "missing"}, http.StatusBadRequest},
		{payment.ErrSignatureMismatch, http.StatusUnauthorized},
		{fmt.Errorf("%w: nope", payment.ErrContributionNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: tenant 1", payment.ErrProviderNotConfigured), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", payment.ErrProviderNotConfigured, &resolver.ConfigurationError{Reason: "x"}), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := postCallback(newRouter(&fakePayments{err: tc.err}), url.Values{"id": {"b1"}})
		require.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestReturnUsesQuery(t *testing.T) {
	svc := &fakePayments{}
	req := httptest.NewRequest(http.MethodGet, "/webhooks/billplz/return?contribution_id="+contribID+"&billplz%5Bid%5D=b1", nil)
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "b1", svc.callbackData["billplz[id]"])
	require.Equal(t, contribID, svc.callbackContID)
}

func apiRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer api-token")
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateBill(t *testing.T) {
	svc := &fakePayments{}
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, apiRequest(http.MethodPost,
		"/api/v1/tenants/7/contributions/"+contribID+"/bills",
		`{"provider":"ToyyibPay","payer_name":"Ali","payer_mobile":"0123456789","description":"Infaq"}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, int64(7), svc.createIn.TenantID)
	require.Equal(t, provider.ProviderToyyibPay, svc.createIn.Provider)
	require.Equal(t, contribID, svc.createIn.ContributionID)
}

func TestCreateBillStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&provider.ValidationError{Field: "payer_mobile", Message: "required"}, http.StatusUnprocessableEntity},
		{contribution.DomainError{Code: contribution.ErrNotPayable, Message: "completed"}, http.StatusConflict},
		{fmt.Errorf("%w: tenant 7", payment.ErrProviderNotConfigured), http.StatusServiceUnavailable},
		{&provider.GatewayRequestError{Provider: provider.ProviderBillplz, StatusCode: 500}, http.StatusBadGateway},
		{&provider.GatewayResponseError{Provider: provider.ProviderBillplz, Reason: "bad"}, http.StatusBadGateway},
		{&provider.GatewayTimeoutError{Provider: provider.ProviderBillplz, Op: "create_bill", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&payment.PersistenceAfterCreateError{BillID: "b1", Err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		newRouter(&fakePayments{err: tc.err}).ServeHTTP(rec, apiRequest(http.MethodPost,
			"/api/v1/tenants/7/contributions/"+contribID+"/bills", `{"provider":"billplz"}`))
		require.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	newRouter(&fakePayments{err: &payment.PersistenceAfterCreateError{BillID: "b1", Err: errors.New("db down")}}).
		ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/tenants/7/contributions/"+contribID+"/bills", `{"provider":"billplz"}`))
	require.Contains(t, rec.Body.String(), `"bill_id":"b1"`)
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestCreateBillBadInput(t *testing.T) {
	h := newRouter(&fakePayments{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/tenants/abc/contributions/"+contribID+"/bills", `{}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/tenants/7/contributions/"+contribID+"/bills", `{`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	rec := httptest.NewRecorder()
	newRouter(&fakePayments{}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(&fakePayments{}).ServeHTTP(rec, apiRequest(http.MethodGet, "/api/v1/providers", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []provider.ProviderInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	require.Equal(t, provider.ProviderBillplz, body.Providers[0].Type)
}

func TestSync(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakePayments{}).ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/contributions/"+contribID+"/sync", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(&fakePayments{err: &provider.GatewayTimeoutError{Provider: provider.ProviderBillplz, Op: "get_bill"}}).
		ServeHTTP(rec, apiRequest(http.MethodPost, "/api/v1/contributions/"+contribID+"/sync", ""))
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	svc := &fakePayments{}
	h := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/admin/callbacks/42/replay", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-Admin-Token", "admin-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(42), svc.replayID)

	req = httptest.NewRequest(http.MethodGet, "/admin/callbacks?contribution_id="+contribID, nil)
	req.Header.Set("X-Admin-Token", "admin-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"count":1`)

	req = httptest.NewRequest(http.MethodPost, "/admin/callbacks/99/replay", nil)
	req.Header.Set("X-Admin-Token", "admin-token")
	rec = httptest.NewRecorder()
	newRouter(&fakePayments{err: payment.ErrCallbackEventNotFound}).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakePayments{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
