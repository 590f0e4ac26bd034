package toyyibpay

import (
	"context"
	"encoding/json"
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
	ProductionURL = "https://toyyibpay.com"
	SandboxURL    = "https://dev.toyyibpay.com"

	createBillPath      = "/index.php/api/createBill"
	billTransactionPath = "/index.php/api/getBillTransactions"

	nameLimit        = 30
	descriptionLimit = 100
	referenceLimit   = 50
	defaultBillName  = "Sumbangan"
)

// Payment status codes used by callbacks, redirects and bill queries.
const (
	statusSuccess    = "1"
	statusPending    = "2"
	statusFailed     = "3"
	statusPendingAlt = "4"
)

// Endpoints holds the gateway base URLs.
type Endpoints struct {
	Production string
	Sandbox    string
}

// Provider implements the ToyyibPay bill API
type Provider struct {
	httpClient *base.HTTPClient
	validator  *base.RequestValidator
	endpoints  Endpoints
}

// New creates a ToyyibPay adapter on the injected HTTP client.
func New(client *http.Client, endpoints Endpoints) *Provider {
	if endpoints.Production == "" {
		endpoints.Production = ProductionURL
	}
	if endpoints.Sandbox == "" {
		endpoints.Sandbox = SandboxURL
	}
	return &Provider{
		httpClient: base.NewHTTPClient(provider.ProviderToyyibPay, client),
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
	return provider.ProviderToyyibPay
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "ToyyibPay"
}

// RequiredCredentialFields returns required credential fields for ToyyibPay
func (p *Provider) RequiredCredentialFields() []provider.CredentialField {
	return []provider.CredentialField{
		{
			Name:        credential.FieldSecretKey,
			DisplayName: "User Secret Key",
			Type:        "password",
			Required:    true,
		},
		{
			Name:        credential.FieldCategoryCode,
			DisplayName: "Category Code",
			Type:        "text",
			Required:    true,
		},
	}
}

// ValidateBillRequest makes the payer mobile mandatory.
func (p *Provider) ValidateBillRequest(req provider.BillCreateRequest) error {
	if err := p.validator.ValidateBillRequest(req); err != nil {
		return err
	}
	if req.PayerMobile == "" {
		return &provider.ValidationError{Field: "payer_mobile", Message: "ToyyibPay requires a mobile number"}
	}
	return nil
}

// BillName is the 30 character name sent to ToyyibPay for a description.
func BillName(description string) string {
	name := strings.TrimSpace(description)
	if name == "" {
		name = defaultBillName
	}
	return base.Truncate(name, nameLimit)
}

// CreateBill opens a bill under the tenant's category
func (p *Provider) CreateBill(ctx context.Context, cfg *credential.ProviderConfig, req provider.BillCreateRequest) (*provider.BillHandle, error) {
	req = req.Normalised()
	if err := p.ValidateBillRequest(req); err != nil {
		return nil, err
	}

	categoryCode := cfg.Credential(credential.FieldCategoryCode)
	amount := p.ToMinorUnits(req.Amount)
	name := BillName(req.Description)

	description := req.Description
	if description == "" {
		description = name
	}
	reference := req.Reference
	if reference == "" {
		reference = req.ContributionID
	}

	form := url.Values{}
	form.Set("userSecretKey", cfg.Credential(credential.FieldSecretKey))
	form.Set("categoryCode", categoryCode)
	form.Set("billName", name)
	form.Set("billDescription", base.Truncate(description, descriptionLimit))
	form.Set("billPriceSetting", "1")
	form.Set("billPayorInfo", "1")
	form.Set("billAmount", strconv.FormatInt(amount, 10))
	form.Set("billReturnUrl", req.RedirectURL)
	form.Set("billCallbackUrl", req.CallbackURL)
	form.Set("billExternalReferenceNo", base.Truncate(reference, referenceLimit))
	form.Set("billTo", req.PayerName)
	form.Set("billEmail", req.PayerEmail)
	form.Set("billPhone", p.validator.NormalizeMobile(req.PayerMobile))

	resp, err := p.httpClient.PostForm(ctx, "create_bill", p.baseURL(cfg)+createBillPath, form)
	if err != nil {
		return nil, err
	}

	var created []struct {
		BillCode string `json:"BillCode"`
	}
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderToyyibPay, Reason: "expected [{\"BillCode\":...}]", Body: resp.String()}
	}
	if len(created) == 0 || strings.TrimSpace(created[0].BillCode) == "" {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderToyyibPay, Reason: "missing BillCode", Body: resp.String()}
	}
	billCode := strings.TrimSpace(created[0].BillCode)

	log.Info().
		Str("provider", string(provider.ProviderToyyibPay)).
		Int64("tenant_id", req.TenantID).
		Str("contribution_id", req.ContributionID).
		Str("bill_id", billCode).
		Int64("amount_minor", amount).
		Bool("sandbox", cfg.IsSandbox).
		Msg("bill created")

	return &provider.BillHandle{
		BillID:       billCode,
		PaymentURL:   p.BuildPaymentURL(cfg, billCode),
		AmountMinor:  amount,
		CollectionID: categoryCode,
		DisplayName:  name,
	}, nil
}

// GetBill reads the bill's transactions. A successful transaction wins; otherwise
// the latest one decides. No transactions means the bill is still pending.
func (p *Provider) GetBill(ctx context.Context, cfg *credential.ProviderConfig, billID string) (*provider.BillStatus, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return nil, &provider.ValidationError{Field: "bill_id", Message: "bill id is required"}
	}

	form := url.Values{}
	form.Set("billCode", billID)
	resp, err := p.httpClient.PostForm(ctx, "get_bill", p.baseURL(cfg)+billTransactionPath, form)
	if err != nil {
		return nil, err
	}

	var txns []billTransaction
	if err := json.Unmarshal(resp.Body, &txns); err != nil {
		return nil, &provider.GatewayResponseError{Provider: provider.ProviderToyyibPay, Reason: "invalid transaction list", Body: resp.String()}
	}

	st := &provider.BillStatus{
		BillID: billID,
		Status: contribution.StatusPending,
		Raw:    map[string]string{"billcode": billID},
	}
	if len(txns) == 0 {
		return st, nil
	}

	chosen := txns[len(txns)-1]
	for _, t := range txns {
		if t.Status == statusSuccess {
			chosen = t
			break
		}
	}

	st.Status = mapStatus(chosen.Status)
	st.Raw["billpaymentStatus"] = chosen.Status
	st.Raw["billpaymentAmount"] = chosen.Amount
	st.Raw["billpaymentInvoiceNo"] = chosen.InvoiceNo
	st.Raw["billPaymentDate"] = chosen.PaymentDate
	if amt, err := decimal.NewFromString(strings.TrimSpace(chosen.Amount)); err == nil {
		st.AmountMinor, st.AmountKnown = p.ToMinorUnits(amt), true
	}
	return st, nil
}

// BuildPaymentURL returns {base}/{billCode}; no network call.
func (p *Provider) BuildPaymentURL(cfg *credential.ProviderConfig, billID string) string {
	return p.baseURL(cfg) + "/" + url.PathEscape(billID)
}

// ExtractBillID reads billcode, present in both callbacks and redirects.
func (p *Provider) ExtractBillID(payload provider.CallbackPayload) (string, bool) {
	id := payload.Get("billcode")
	return id, id != ""
}

// VerifyCallback checks the MD5 hash with the tenant's secret key.
func (p *Provider) VerifyCallback(cfg *credential.ProviderConfig, payload provider.CallbackPayload) bool {
	return Verify(cfg.Credential(credential.FieldSecretKey), payload)
}

// ParseCallback maps status 1 to completed, 3 to failed and 2 to pending.
func (p *Provider) ParseCallback(payload provider.CallbackPayload) (*provider.CallbackResult, error) {
	id := payload.Get("billcode")
	if id == "" {
		return nil, &provider.ValidationError{Field: "billcode", Message: "callback has no bill code"}
	}

	code := payload.Get("status")
	if code == "" {
		code = payload.Get("status_id")
	}
	switch code {
	case statusSuccess, statusFailed, statusPending, statusPendingAlt:
	default:
		return nil, &provider.ValidationError{Field: "status", Message: "unknown status " + strconv.Quote(code)}
	}

	res := &provider.CallbackResult{
		BillID:    id,
		Status:    mapStatus(code),
		Reference: payload.Get("refno"),
	}
	if res.Reference == "" {
		res.Reference = payload.Get("transaction_id")
	}
	if amt, err := decimal.NewFromString(payload.Get("amount")); err == nil {
		res.Amount, res.AmountKnown = amt, true
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

func mapStatus(code string) contribution.Status {
	switch code {
	case statusSuccess:
		return contribution.StatusCompleted
	case statusFailed:
		return contribution.StatusFailed
	default:
		return contribution.StatusPending
	}
}

type billTransaction struct {
	Status      string `json:"billpaymentStatus"`
	Amount      string `json:"billpaymentAmount"`
	InvoiceNo   string `json:"billpaymentInvoiceNo"`
	PaymentDate string `json:"billPaymentDate"`
}

var _ provider.Adapter = (*Provider)(nil)
