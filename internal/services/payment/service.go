package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"masjidpay/internal/domain/callback"
	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/services/resolver"
	"masjidpay/internal/store/repositories"
)

const (
	persistTimeout    = 15 * time.Second
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// ConfigResolver finds a tenant's usable provider configuration.
type ConfigResolver interface {
	Resolve(ctx context.Context, tenantID int64, providerType provider.ProviderType) (*credential.ProviderConfig, error)
}

// CallbackGuard remembers callbacks that were already reconciled.
type CallbackGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

// Recorder receives payment outcomes for metrics.
type Recorder interface {
	BillCreated(provider, outcome string)
	CallbackHandled(provider, source, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) BillCreated(string, string)             {}
func (noopRecorder) CallbackHandled(string, string, string) {}

// Service creates bills and reconciles gateway reports against contributions.
// It holds no per-request state; the contribution store is the source of truth.
type Service struct {
	registry      *provider.Registry
	resolver      ConfigResolver
	contributions repositories.ContributionRepository
	events        repositories.CallbackEventRepository
	guard         CallbackGuard
	metrics       Recorder
	callbackBase  string
	newBackoff    func() backoff.BackOff
	now           func() time.Time
}

// Option configures optional collaborators
type Option func(*Service)

// WithGuard enables the processed-callback short circuit.
func WithGuard(g CallbackGuard) Option {
	return func(s *Service) { s.guard = g }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithPersistBackoff sets the retry policy for linking a created bill.
func WithPersistBackoff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackoff = f }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// DefaultPersistBackoff retries up to maxRetries times with exponential delays.
func DefaultPersistBackoff(maxRetries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 2 * time.Second
		b.MaxElapsedTime = persistTimeout
		return backoff.WithMaxRetries(b, maxRetries)
	}
}

// NewService creates a new payment service. callbackBaseURL is the public origin
// gateways use to reach the webhook endpoints.
func NewService(
	registry *provider.Registry,
	configs ConfigResolver,
	contributions repositories.ContributionRepository,
	events repositories.CallbackEventRepository,
	callbackBaseURL string,
	opts ...Option,
) *Service {
	s := &Service{
		registry:      registry,
		resolver:      configs,
		contributions: contributions,
		events:        events,
		metrics:       noopRecorder{},
		callbackBase:  strings.TrimRight(callbackBaseURL, "/"),
		newBackoff:    DefaultPersistBackoff(3),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBillInput is what a caller supplies to open a bill. The amount always
// comes from the stored contribution.
type CreateBillInput struct {
	TenantID       int64
	ContributionID string
	Provider       provider.ProviderType
	PayerName      string
	PayerEmail     string
	PayerMobile    string
	Description    string
	Reference      string
}

// BillResult is returned to the caller that asked for a bill.
type BillResult struct {
	ContributionID string                `json:"contribution_id"`
	Provider       provider.ProviderType `json:"provider"`
	BillID         string                `json:"bill_id"`
	PaymentURL     string                `json:"payment_url"`
	Reused         bool                  `json:"reused"`
}

// CallbackOutcome describes what a gateway report did to a contribution.
type CallbackOutcome struct {
	ContributionID string              `json:"contribution_id"`
	BillID         string              `json:"bill_id"`
	Status         contribution.Status `json:"status"`
	Previous       contribution.Status `json:"previous_status,omitempty"`
	Applied        bool                `json:"applied"`
	Duplicate      bool                `json:"duplicate"`
	Ignored        bool                `json:"ignored"`
}

// CreateBill opens a gateway bill for a pending contribution and links it before returning.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (*BillResult, error) {
	const op = "create_bill"

	adapter, err := s.registry.Get(in.Provider)
	if err != nil {
		return nil, &provider.ValidationError{Field: "provider", Message: err.Error()}
	}
	pt := adapter.Type()

	cfg, err := s.resolveConfig(ctx, in.TenantID, pt)
	if err != nil {
		s.metrics.BillCreated(string(pt), "not_configured")
		return nil, err
	}

	id, err := contribution.ParseID(in.ContributionID)
	if err != nil {
		return nil, &provider.ValidationError{Field: "contribution_id", Message: err.Error()}
	}
	c, err := s.contributions.FindByID(ctx, id)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return nil, ErrContributionNotFound
	case err != nil:
		return nil, ServiceError{Op: op, Message: "load contribution", Err: err}
	case c.TenantID != in.TenantID:
		return nil, ErrContributionNotFound
	}
	if err := c.CheckPayable(); err != nil {
		return nil, err
	}

	if res, ok := s.existingBill(c, adapter, cfg); ok {
		s.metrics.BillCreated(string(pt), "reused")
		log.Info().
			Str("provider", string(pt)).
			Str("contribution_id", c.ID).
			Str("bill_id", c.BillID).
			Msg("returning existing bill")
		return res, nil
	}

	req := provider.BillCreateRequest{
		TenantID:       in.TenantID,
		ContributionID: c.ID,
		Amount:         c.Amount,
		PayerName:      in.PayerName,
		PayerEmail:     in.PayerEmail,
		PayerMobile:    in.PayerMobile,
		Description:    in.Description,
		Reference:      in.Reference,
		CallbackURL:    s.webhookURL(pt, "callback", c.ID),
		RedirectURL:    s.webhookURL(pt, "return", c.ID),
	}.Normalised()
	if err := adapter.ValidateBillRequest(req); err != nil {
		s.metrics.BillCreated(string(pt), "validation")
		return nil, err
	}

	handle, err := adapter.CreateBill(ctx, cfg, req)
	if err != nil {
		s.metrics.BillCreated(string(pt), gatewayOutcome(err))
		log.Warn().
			Str("provider", string(pt)).
			Int64("tenant_id", in.TenantID).
			Str("contribution_id", c.ID).
			Err(err).
			Msg("bill creation failed")
		return nil, err
	}

	data := c.PaymentData.Clone()
	data.SetCreation(contribution.CreationMetadata{
		Provider:     string(pt),
		BillID:       handle.BillID,
		CollectionID: handle.CollectionID,
		PaymentURL:   handle.PaymentURL,
		CallbackURL:  req.CallbackURL,
		RedirectURL:  req.RedirectURL,
		Description:  req.Description,
		DisplayName:  handle.DisplayName,
		AmountMinor:  handle.AmountMinor,
		Sandbox:      cfg.IsSandbox,
		CreatedAt:    s.now().UTC(),
	})

	if err := s.persistBill(ctx, c.ID, string(pt), handle.BillID, data); err != nil {
		s.metrics.BillCreated(string(pt), "persistence_error")
		log.Error().
			Bool("manual_reconciliation", true).
			Str("provider", string(pt)).
			Int64("tenant_id", in.TenantID).
			Str("contribution_id", c.ID).
			Str("bill_id", handle.BillID).
			Str("payment_url", handle.PaymentURL).
			Err(err).
			Msg("bill created but contribution not linked")
		return nil, &PersistenceAfterCreateError{
			TenantID:       in.TenantID,
			ContributionID: c.ID,
			Provider:       pt,
			BillID:         handle.BillID,
			PaymentURL:     handle.PaymentURL,
			Err:            err,
		}
	}

	s.metrics.BillCreated(string(pt), "created")
	return &BillResult{
		ContributionID: c.ID,
		Provider:       pt,
		BillID:         handle.BillID,
		PaymentURL:     handle.PaymentURL,
	}, nil
}

// existingBill returns the stored handle when the contribution already has a
// matching bill at the same provider, environment and amount.
func (s *Service) existingBill(c *contribution.Contribution, adapter provider.Adapter, cfg *credential.ProviderConfig) (*BillResult, bool) {
	created := c.PaymentData.Creation
	if !c.HasBill() || created == nil || c.PaymentMethod != string(adapter.Type()) {
		return nil, false
	}
	if created.BillID != c.BillID || created.Sandbox != cfg.IsSandbox || created.AmountMinor != adapter.ToMinorUnits(c.Amount) {
		return nil, false
	}
	paymentURL := created.PaymentURL
	if paymentURL == "" {
		paymentURL = adapter.BuildPaymentURL(cfg, c.BillID)
	}
	return &BillResult{
		ContributionID: c.ID,
		Provider:       adapter.Type(),
		BillID:         c.BillID,
		PaymentURL:     paymentURL,
		Reused:         true,
	}, true
}

// persistBill retries the link write. The bill already exists upstream, so the
// write outlives a cancelled request.
func (s *Service) persistBill(ctx context.Context, id, method, billID string, data contribution.PaymentData) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	attempt := 0
	write := func() error {
		attempt++
		err := s.contributions.AttachBill(ctx, id, method, billID, data)
		if errors.Is(err, repositories.ErrNotFound) || errors.Is(err, repositories.ErrStale) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warn().
				Str("contribution_id", id).
				Str("bill_id", billID).
				Int("attempt", attempt).
				Err(err).
				Msg("linking bill failed, retrying")
		}
		return err
	}
	return backoff.Retry(write, backoff.WithContext(s.newBackoff(), ctx))
}

// ProcessCallback verifies and applies an asynchronous gateway callback. The raw
// callback is logged first so it can be inspected and replayed.
func (s *Service) ProcessCallback(ctx context.Context, providerType provider.ProviderType, payload provider.CallbackPayload, contributionID string) (*CallbackOutcome, error) {
	ev, err := callback.NewEvent(string(providerType), contributionID, string(contribution.SourceCallback), payload)
	if err != nil {
		return nil, &provider.ValidationError{Field: "provider", Message: err.Error()}
	}
	if err := s.events.Save(ctx, ev); err != nil {
		log.Warn().Str("provider", string(providerType)).Err(err).Msg("callback event not logged")
		ev.ID = 0
	}

	out, err := s.reconcile(ctx, ev)
	s.finishEvent(ctx, ev, err)
	return out, err
}

// ReplayCallback runs a logged callback through reconciliation again.
func (s *Service) ReplayCallback(ctx context.Context, eventID int64) (*CallbackOutcome, error) {
	ev, err := s.events.FindByID(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrCallbackEventNotFound
	}
	if err != nil {
		return nil, ServiceError{Op: "replay_callback", Message: "load event", Err: err}
	}
	if ev.IsProcessed() {
		if err := ev.MarkForReprocessing(); err != nil {
			return nil, ServiceError{Op: "replay_callback", Message: "mark for reprocessing", Err: err}
		}
	}

	log.Info().
		Int64("event_id", ev.ID).
		Str("provider", ev.Provider).
		Str("contribution_id", ev.ContributionID).
		Msg("replaying callback")

	out, err := s.reconcile(ctx, ev)
	s.finishEvent(ctx, ev, err)
	return out, err
}

// ListCallbacks returns logged callbacks for a contribution, newest first.
func (s *Service) ListCallbacks(ctx context.Context, contributionID string, limit int) ([]*callback.Event, error) {
	id, err := contribution.ParseID(contributionID)
	if err != nil {
		return nil, &provider.ValidationError{Field: "contribution_id", Message: err.Error()}
	}
	if limit <= 0 || limit > maxEventLimit {
		limit = defaultEventLimit
	}
	return s.events.FindByContribution(ctx, id, limit)
}

func (s *Service) reconcile(ctx context.Context, ev *callback.Event) (*CallbackOutcome, error) {
	pt := provider.ProviderType(ev.Provider)
	source := contribution.CallbackSource(ev.Source)

	adapter, err := s.registry.Get(pt)
	if err != nil {
		return nil, &provider.ValidationError{Field: "provider", Message: err.Error()}
	}
	payload := provider.CallbackPayload(ev.Payload)

	billID, ok := adapter.ExtractBillID(payload)
	if !ok {
		s.metrics.CallbackHandled(string(pt), string(source), "missing_reference")
		return nil, ErrMissingBillReference
	}
	ev.BillID = billID

	id, err := contribution.ParseID(ev.ContributionID)
	if err != nil {
		s.metrics.CallbackHandled(string(pt), string(source), "not_found")
		return nil, fmt.Errorf("%w: %v", ErrContributionNotFound, err)
	}
	ev.ContributionID = id

	fingerprint := contribution.Fingerprint(string(pt), ev.Payload)
	key := guardKey(pt, id, fingerprint)
	if s.seen(ctx, key) {
		s.metrics.CallbackHandled(string(pt), string(source), "duplicate")
		ev.SignatureValid = true
		return &CallbackOutcome{ContributionID: id, BillID: billID, Duplicate: true}, nil
	}

	c, err := s.findByCompoundKey(ctx, id, billID, pt)
	if err != nil {
		if errors.Is(err, ErrContributionNotFound) {
			s.metrics.CallbackHandled(string(pt), string(source), "not_found")
		}
		return nil, err
	}

	cfg, err := s.resolveConfig(ctx, c.TenantID, pt)
	if err != nil {
		return nil, err
	}

	if !adapter.VerifyCallback(cfg, payload) {
		s.metrics.CallbackHandled(string(pt), string(source), "signature_mismatch")
		log.Warn().
			Str("provider", string(pt)).
			Int64("tenant_id", c.TenantID).
			Str("contribution_id", c.ID).
			Str("bill_id", billID).
			Msg("callback signature mismatch")
		return nil, ErrSignatureMismatch
	}
	ev.SignatureValid = true

	result, err := adapter.ParseCallback(payload)
	if err != nil {
		return nil, err
	}
	s.checkAmount(c, pt, source, result.Amount, result.AmountKnown)

	out, err := s.apply(ctx, c, pt, source, result.Status, ev.Payload, fingerprint)
	if err != nil {
		return nil, err
	}
	s.remember(ctx, key)
	return out, nil
}

// SyncBill asks the gateway for the bill's state and applies it.
func (s *Service) SyncBill(ctx context.Context, contributionID string) (*CallbackOutcome, error) {
	id, err := contribution.ParseID(contributionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContributionNotFound, err)
	}
	c, err := s.contributions.FindByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrContributionNotFound
	}
	if err != nil {
		return nil, ServiceError{Op: "sync_bill", Message: "load contribution", Err: err}
	}
	return s.syncContribution(ctx, c)
}

// ConfirmReturn handles the payer's browser redirect. The redirect only names
// the bill; the status is confirmed with the gateway.
func (s *Service) ConfirmReturn(ctx context.Context, providerType provider.ProviderType, query provider.CallbackPayload, contributionID string) (*CallbackOutcome, error) {
	adapter, err := s.registry.Get(providerType)
	if err != nil {
		return nil, &provider.ValidationError{Field: "provider", Message: err.Error()}
	}
	billID, ok := adapter.ExtractBillID(query)
	if !ok {
		return nil, ErrMissingBillReference
	}
	id, err := contribution.ParseID(contributionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContributionNotFound, err)
	}
	c, err := s.findByCompoundKey(ctx, id, billID, adapter.Type())
	if err != nil {
		return nil, err
	}
	return s.syncContribution(ctx, c)
}

func (s *Service) syncContribution(ctx context.Context, c *contribution.Contribution) (*CallbackOutcome, error) {
	if !c.HasBill() || c.PaymentMethod == "" {
		return nil, ErrMissingBillReference
	}
	pt := provider.ProviderType(c.PaymentMethod)
	adapter, err := s.registry.Get(pt)
	if err != nil {
		return nil, ServiceError{Op: "sync_bill", Message: "unknown payment method " + c.PaymentMethod, Err: err}
	}
	cfg, err := s.resolveConfig(ctx, c.TenantID, pt)
	if err != nil {
		return nil, err
	}

	st, err := adapter.GetBill(ctx, cfg, c.BillID)
	if err != nil {
		s.metrics.CallbackHandled(string(pt), string(contribution.SourceQuery), gatewayOutcome(err))
		return nil, err
	}
	if st.BillID != c.BillID {
		return nil, &provider.GatewayResponseError{Provider: pt, Reason: fmt.Sprintf("asked for bill %s, got %s", c.BillID, st.BillID)}
	}
	if st.AmountKnown {
		s.checkAmount(c, pt, contribution.SourceQuery, adapter.ToMajorUnits(st.AmountMinor), true)
	}

	fingerprint := contribution.Fingerprint(string(pt), st.Raw)
	return s.apply(ctx, c, pt, contribution.SourceQuery, st.Status, st.Raw, fingerprint)
}

// apply runs the status decision and writes status and payment_data together.
func (s *Service) apply(
	ctx context.Context,
	c *contribution.Contribution,
	pt provider.ProviderType,
	source contribution.CallbackSource,
	reported contribution.Status,
	payload map[string]string,
	fingerprint string,
) (*CallbackOutcome, error) {
	out := &CallbackOutcome{ContributionID: c.ID, BillID: c.BillID, Status: c.Status, Previous: c.Status}
	logger := log.With().
		Str("provider", string(pt)).
		Str("source", string(source)).
		Int64("tenant_id", c.TenantID).
		Str("contribution_id", c.ID).
		Str("bill_id", c.BillID).
		Str("current", string(c.Status)).
		Str("reported", string(reported)).
		Logger()

	if c.PaymentData.HasCallback(fingerprint) {
		out.Duplicate = true
		s.metrics.CallbackHandled(string(pt), string(source), "duplicate")
		logger.Debug().Msg("gateway report already recorded")
		return out, nil
	}

	decision := contribution.Decide(c.Status, reported)
	switch decision {
	case contribution.DecisionLocked:
		out.Ignored = true
		s.metrics.CallbackHandled(string(pt), string(source), "ignored")
		logger.Info().Msg("contribution is cancelled, gateway report ignored")
		return out, nil
	case contribution.DecisionConflict:
		logger.Warn().Msg("conflicting gateway outcome, status kept")
	}

	next := c.Status
	if decision == contribution.DecisionApply {
		next = reported
	}

	now := s.now().UTC()
	data := c.PaymentData.Clone()
	data.AppendCallback(contribution.CallbackMetadata{
		Provider:    string(pt),
		Source:      source,
		Status:      reported,
		Fingerprint: fingerprint,
		Payload:     payload,
		ReceivedAt:  now,
	}, now)

	if err := s.contributions.UpdatePayment(ctx, c.ID, c.BillID, next, data); err != nil {
		switch {
		case errors.Is(err, repositories.ErrStale):
			out.Ignored = true
			s.metrics.CallbackHandled(string(pt), string(source), "ignored")
			logger.Warn().Msg("contribution changed during reconciliation, report dropped")
			return out, nil
		case errors.Is(err, repositories.ErrNotFound):
			return nil, ErrContributionNotFound
		}
		return nil, ServiceError{Op: "reconcile", Message: "update contribution", Err: err}
	}

	out.Status = next
	out.Applied = decision == contribution.DecisionApply
	s.metrics.CallbackHandled(string(pt), string(source), decision.String())
	logger.Info().Str("decision", decision.String()).Str("status", string(next)).Msg("gateway report reconciled")
	return out, nil
}

func (s *Service) findByCompoundKey(ctx context.Context, id, billID string, pt provider.ProviderType) (*contribution.Contribution, error) {
	c, err := s.contributions.FindByIDAndBill(ctx, id, billID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrContributionNotFound
	}
	if err != nil {
		return nil, ServiceError{Op: "reconcile", Message: "load contribution", Err: err}
	}
	if c.PaymentMethod != "" && c.PaymentMethod != string(pt) {
		log.Warn().
			Str("provider", string(pt)).
			Str("payment_method", c.PaymentMethod).
			Str("contribution_id", id).
			Str("bill_id", billID).
			Msg("gateway report from a provider the contribution does not use")
		return nil, ErrContributionNotFound
	}
	return c, nil
}

func (s *Service) resolveConfig(ctx context.Context, tenantID int64, pt provider.ProviderType) (*credential.ProviderConfig, error) {
	cfg, err := s.resolver.Resolve(ctx, tenantID, pt)
	if err == nil {
		return cfg, nil
	}
	var cerr *resolver.ConfigurationError
	switch {
	case errors.Is(err, resolver.ErrNotConfigured):
		return nil, fmt.Errorf("%w: tenant %d has no active %s configuration", ErrProviderNotConfigured, tenantID, pt)
	case errors.As(err, &cerr):
		log.Error().Int64("tenant_id", tenantID).Str("provider", string(pt)).Err(err).Msg("provider configuration unusable")
		return nil, fmt.Errorf("%w: %w", ErrProviderNotConfigured, err)
	}
	return nil, ServiceError{Op: "resolve_config", Message: "load provider config", Err: err}
}

// checkAmount only warns; gateways may add fees or report in a different precision.
func (s *Service) checkAmount(c *contribution.Contribution, pt provider.ProviderType, source contribution.CallbackSource, reported decimal.Decimal, known bool) {
	if !known || reported.Equal(c.Amount) {
		return
	}
	log.Warn().
		Str("provider", string(pt)).
		Str("source", string(source)).
		Str("contribution_id", c.ID).
		Str("bill_id", c.BillID).
		Str("expected", c.Amount.StringFixed(2)).
		Str("reported", reported.StringFixed(2)).
		Msg("gateway amount differs from contribution")
}

func (s *Service) finishEvent(ctx context.Context, ev *callback.Event, cause error) {
	if ev.ID == 0 {
		return
	}
	status, msg := callback.ProcessingCompleted, ""
	switch {
	case errors.Is(cause, ErrSignatureMismatch):
		status, msg = callback.ProcessingRejected, cause.Error()
	case cause != nil:
		status, msg = callback.ProcessingFailed, cause.Error()
	}
	if err := ev.UpdateProcessingStatus(status, msg); err != nil {
		log.Warn().Int64("event_id", ev.ID).Err(err).Msg("callback event status not updated")
		return
	}
	if err := s.events.MarkProcessed(context.WithoutCancel(ctx), ev); err != nil {
		log.Warn().Int64("event_id", ev.ID).Err(err).Msg("callback event not marked processed")
	}
}

func (s *Service) seen(ctx context.Context, key string) bool {
	if s.guard == nil {
		return false
	}
	ok, err := s.guard.Seen(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("callback guard unavailable")
		return false
	}
	return ok
}

func (s *Service) remember(ctx context.Context, key string) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Remember(ctx, key); err != nil {
		log.Warn().Err(err).Msg("callback guard not updated")
	}
}

func (s *Service) webhookURL(pt provider.ProviderType, kind, contributionID string) string {
	return fmt.Sprintf("%s/webhooks/%s/%s?contribution_id=%s", s.callbackBase, url.PathEscape(string(pt)), kind, url.QueryEscape(contributionID))
}

func guardKey(pt provider.ProviderType, contributionID, fingerprint string) string {
	return string(pt) + ":" + contributionID + ":" + fingerprint
}

func gatewayOutcome(err error) string {
	var toErr *provider.GatewayTimeoutError
	var verr *provider.ValidationError
	switch {
	case errors.As(err, &toErr):
		return "timeout"
	case errors.As(err, &verr):
		return "validation"
	case provider.IsGatewayError(err):
		return "gateway_error"
	}
	return "error"
}
