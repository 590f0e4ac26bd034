package billplz

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/base"
)

const (
	ProductionURL = "https://www.billplz.com"
	SandboxURL    = "https://www.billplz-sandbox.com"

	billsPath = "/api/v3/bills"

	descriptionLimit = 200
	nameLimit        = 255
	referenceLimit   = 120
	referenceLabel   = "Contribution"
)

// Endpoints holds the gateway base URLs.
type Endpoints struct {
	Production string
	Sandbox    string
}

// Provider implements the Billplz v3 bills API
type Provider struct {
	httpClient *base.HTTPClient
	validator  *base.RequestValidator
	endpoints  Endpoints
}

// New creates a Billplz adapter on the injected HTTP client.
func New(client *http.Client, endpoints Endpoints) *Provider {
	if endpoints.Production == "" {
		endpoints.Production = ProductionURL
	}
	if endpoints.Sandbox == "" {
		endpoints.Sandbox = SandboxURL
	}
	return &Provider{
		httpClient: base.NewHTTPClient(provider.ProviderBillplz, client),
		validator:  base.NewRequestValidator(),
		endpoints:  endpoints,
	}
}

// SetObserver forwards gateway call samples to o.
func (p *Provider) SetObserver(o base.Observer) {
	p.httpClient.SetObserver(o)
}

// Type returns the provider tag
func (p *Provider) Type() provider.ProviderType {
	return provider.ProviderBillplz
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "Billplz"
}

// RequiredCredentialFields returns required credential fields for Billplz
func (p *Provider) RequiredCredentialFields() []provider.CredentialField {
	return []provider.CredentialField{
		{
			Name:        credential.FieldAPIKey,
			DisplayName: "API Secret Key",
			Type:        "password",
			Required:    true,
		},
		{
			Name:        credential.FieldXSignatureKey,
			DisplayName: "X Signature Key",
			Type:        "password",
			Required:    true,
		},
		{
			Name:        credential.FieldCollectionID,
			DisplayName: "Collection ID",
			Type:        "text",
			Required:    true,
		},
	}
}

// ValidateBillRequest requires an email or a mobile number on top of the shared checks.
func (p *Provider) ValidateBillRequest(req provider.BillCreateRequest) error {
	if err := p.validator.ValidateBillRequest(req); err != nil {
		return err
	}
	if req.PayerEmail == "" && req.PayerMobile == "" {
		return &provider.ValidationError{Field: "payer_email", Message: "Billplz requires an email or a mobile number"}
	}
	return nil
}

// CreateBill opens a bill in the tenant's collection
func (p *Provider) CreateBill(ctx context.Context, cfg *credential.ProviderConfig, req provider.BillCreateRequest) (*provider.BillHandle, error) {
	req = req.Normalised()
	if err := p.ValidateBillRequest(req); err != nil {
		return nil, err
	}

	apiKey := cfg.Credential(credential.FieldAPIKey)
	collectionID := cfg.Credential(credential.FieldCollectionID)
	amount := p.ToMinorUnits(req.Amount)
	name := base.Truncate(req.PayerName, nameLimit)

	reference := req.Reference
	if reference == "" {
		reference = req.ContributionID
	}

	form := url.Values{}
	form.Set("collection_id", collectionID)
	form.Set("name", name)
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("description", base.Truncate(req.Description, descriptionLimit))
	form.Set("callback_url", req.CallbackURL)
	form.Set("reference_1_label", referenceLabel)
	form.Set("reference_1", base.Truncate(reference, referenceLimit))
	if req.PayerEmail != "" {
		form.Set("email", req.PayerEmail)
	}
	if mobile := p.validator.NormalizeMobile(req.PayerMobile); mobile != "" {
		form.Set("mobile", mobile)
	}
	if req.RedirectURL != "" {
		form.Set("redirect_url", req.RedirectURL)
	}

	resp, err := p.httpClient.PostForm(ctx, "create_bill", p.baseURL(cfg)+billsPath, form, base.WithBasicAuth(apiKey, ""))
	if err != nil {
		return nil, err
	}

	var bill billResponse
	if err := resp.DecodeJSON(&bill); err != nil {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderBillplz, Reason: "invalid JSON: " + err.Error(), Body: resp.String()}
	}
	if strings.TrimSpace(bill.ID) == "" {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderBillplz, Reason: "missing bill id", Body: resp.String()}
	}

	paymentURL := bill.URL
	if paymentURL == "" {
		paymentURL = p.BuildPaymentURL(cfg, bill.ID)
	}

	log.Info().
		Str("provider", string(provider.ProviderBillplz)).
		Int64("tenant_id", req.TenantID).
		Str("contribution_id", req.ContributionID).
		Str("bill_id", bill.ID).
		Int64("amount_minor", amount).
		Bool("sandbox", cfg.IsSandbox).
		Msg("bill created")

	return &provider.BillHandle{
		BillID:       bill.ID,
		PaymentURL:   paymentURL,
		AmountMinor:  amount,
		CollectionID: collectionID,
		DisplayName:  name,
	}, nil
}

// GetBill queries a bill server to server
func (p *Provider) GetBill(ctx context.Context, cfg *credential.ProviderConfig, billID string) (*provider.BillStatus, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return nil, &provider.ValidationError{Field: "bill_id", Message: "bill id is required"}
	}

	endpoint := p.baseURL(cfg) + billsPath + "/" + url.PathEscape(billID)
	resp, err := p.httpClient.Get(ctx, "get_bill", endpoint, base.WithBasicAuth(cfg.Credential(credential.FieldAPIKey), ""))
	if err != nil {
		return nil, err
	}

	var bill billResponse
	if err := resp.DecodeJSON(&bill); err != nil {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderBillplz, Reason: "invalid JSON: " + err.Error(), Body: resp.String()}
	}
	if bill.ID == "" {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderBillplz, Reason: "missing bill id", Body: resp.String()}
	}

	status := contribution.StatusPending
	switch {
	case bill.Paid:
		status = contribution.StatusCompleted
	case bill.State == "deleted":
		status = contribution.StatusFailed
	}

	return &provider.BillStatus{
		BillID:      bill.ID,
		Status:      status,
		AmountMinor: bill.Amount,
		AmountKnown: true,
		Raw: map[string]string{
			"id":          bill.ID,
			"state":       bill.State,
			"paid":        strconv.FormatBool(bill.Paid),
			"amount":      strconv.FormatInt(bill.Amount, 10),
			"paid_amount": strconv.FormatInt(bill.PaidAmount, 10),
			"paid_at":     bill.PaidAt,
		},
	}, nil
}

// BuildPaymentURL returns the hosted bill page; no network call.
func (p *Provider) BuildPaymentURL(cfg *credential.ProviderConfig, billID string) string {
	return p.baseURL(cfg) + "/bills/" + url.PathEscape(billID)
}

// ExtractBillID reads id from a callback or billplz[id] from a redirect.
func (p *Provider) ExtractBillID(payload provider.CallbackPayload) (string, bool) {
	id := field(payload, "id")
	return id, id != ""
}

// VerifyCallback checks x_signature with the tenant's X Signature key.
func (p *Provider) VerifyCallback(cfg *credential.ProviderConfig, payload provider.CallbackPayload) bool {
	return Verify(cfg.Credential(credential.FieldXSignatureKey), payload)
}

// ParseCallback maps paid=true to completed and anything else reported to failed.
func (p *Provider) ParseCallback(payload provider.CallbackPayload) (*provider.CallbackResult, error) {
	id := field(payload, "id")
	if id == "" {
		return nil, &provider.ValidationError{Field: "id", Message: "callback has no bill id"}
	}

	var status contribution.Status
	switch strings.ToLower(field(payload, "paid")) {
	case "true":
		status = contribution.StatusCompleted
	case "false":
		status = contribution.StatusFailed
	default:
		return nil, &provider.ValidationError{Field: "paid", Message: "callback has no paid flag"}
	}

	res := &provider.CallbackResult{
		BillID:    id,
		Status:    status,
		Reference: field(payload, "transaction_id"),
	}
	if raw := field(payload, "paid_amount"); raw != "" && status == contribution.StatusCompleted {
		if minor, err := strconv.ParseInt(raw, 10, 64); err == nil {
			res.Amount, res.AmountKnown = p.ToMajorUnits(minor), true
		}
	} else if raw := field(payload, "amount"); raw != "" {
		if minor, err := strconv.ParseInt(raw, 10, 64); err == nil {
			res.Amount, res.AmountKnown = p.ToMajorUnits(minor), true
		}
	}
	return res, nil
}

// ToMinorUnits converts ringgit to sen
func (p *Provider) ToMinorUnits(amount decimal.Decimal) int64 {
	return base.ToMinorUnits(amount)
}

// ToMajorUnits converts sen to ringgit
func (p *Provider) ToMajorUnits(minor int64) decimal.Decimal {
	return base.ToMajorUnits(minor)
}

func (p *Provider) baseURL(cfg *credential.ProviderConfig) string {
	if cfg != nil && cfg.IsSandbox {
		return strings.TrimRight(p.endpoints.Sandbox, "/")
	}
	return strings.TrimRight(p.endpoints.Production, "/")
}

// field reads a callback key, falling back to the billplz[key] redirect form.
func field(payload provider.CallbackPayload, name string) string {
	if v := payload.Get(name); v != "" {
		return v
	}
	return payload.Get(redirectPrefix + name + "]")
}

type billResponse struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Paid       bool   `json:"paid"`
	State      string `json:"state"`
	Amount     int64  `json:"amount"`
	PaidAmount int64  `json:"paid_amount"`
	PaidAt     string `json:"paid_at"`
}

var _ provider.Adapter = (*Provider)(nil)
