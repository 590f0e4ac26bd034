package base

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"masjidpay/internal/provider"
)

// maxBodyBytes caps how much of a gateway response is read.
const maxBodyBytes = 1 << 20

// Observer receives one sample per outbound gateway call.
type Observer interface {
	ObserveGatewayCall(provider, op string, statusCode int, elapsed time.Duration)
}

// HTTPClient provides common HTTP functionality for gateway adapters
type HTTPClient struct {
	client   *http.Client
	provider provider.ProviderType
	observer Observer
}

// RequestOption customises an outbound request.
type RequestOption func(*http.Request)

// WithBasicAuth sets HTTP basic credentials.
func WithBasicAuth(user, pass string) RequestOption {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

// NewHTTPClient wraps an injected client. A nil client gets a 30 second timeout.
func NewHTTPClient(p provider.ProviderType, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{client: client, provider: p}
}

// SetObserver attaches a metrics sink.
func (c *HTTPClient) SetObserver(o Observer) {
	c.observer = o
}

// PostForm makes a POST request with a form-encoded payload
func (c *HTTPClient) PostForm(ctx context.Context, op, endpoint string, form url.Values, opts ...RequestOption) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, op, opts)
}

// Get makes a GET request
func (c *HTTPClient) Get(ctx context.Context, op, endpoint string, opts ...RequestOption) (*HTTPResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, op, opts)
}

func (c *HTTPClient) do(req *http.Request, op string, opts []RequestOption) (*HTTPResponse, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "MasjidPay/"+string(c.provider))
	for _, opt := range opts {
		opt(req)
	}

	// Log the request (without credentials or query)
	log.Debug().
		Str("provider", string(c.provider)).
		Str("op", op).
		Str("method", req.Method).
		Str("url", req.URL.Scheme+"://"+req.URL.Host+req.URL.Path).
		Msg("making HTTP request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		if provider.IsTimeout(err) {
			log.Warn().Str("provider", string(c.provider)).Str("op", op).Err(err).Msg("HTTP request timed out")
			return nil, &provider.GatewayTimeoutError{Provider: c.provider, Op: op, Err: err}
		}
		log.Error().Str("provider", string(c.provider)).Str("op", op).Err(err).Msg("HTTP request failed")
		return nil, &provider.GatewayRequestError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(op, resp.StatusCode, time.Since(start))
	if err != nil {
		if provider.IsTimeout(err) {
			return nil, &provider.GatewayTimeoutError{Provider: c.provider, Op: op, Err: err}
		}
		return nil, &provider.GatewayResponseError{Provider: c.provider, Reason: "failed to read body: " + err.Error()}
	}

	log.Debug().
		Str("provider", string(c.provider)).
		Str("op", op).
		Int("status_code", resp.StatusCode).
		Int("body_length", len(body)).
		Msg("received HTTP response")

	httpResp := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}
	if !httpResp.IsSuccess() {
		return httpResp, &provider.GatewayRequestError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       httpResp.String(),
		}
	}
	return httpResp, nil
}

func (c *HTTPClient) observe(op string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveGatewayCall(string(c.provider), op, status, elapsed)
	}
}

// HTTPResponse represents an HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess checks if the response indicates success (2xx status code)
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the response body into the provided value
func (r *HTTPResponse) DecodeJSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string
func (r *HTTPResponse) String() string {
	return string(r.Body)
}
