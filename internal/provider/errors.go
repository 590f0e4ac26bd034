package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ValidationError rejects a request before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// GatewayRequestError is a non-2xx answer, or a transport failure when StatusCode is 0.
type GatewayRequestError struct {
	Provider   ProviderType
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayRequestError) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *GatewayRequestError) Unwrap() error { return e.Err }

// GatewayResponseError is a 2xx answer whose body could not be understood.
type GatewayResponseError struct {
	Provider ProviderType
	Reason   string
	Body     string
}

func (e *GatewayResponseError) Error() string {
	return fmt.Sprintf("%s returned an unexpected response: %s", e.Provider, e.Reason)
}

// GatewayTimeoutError means the call ran out of time. The outcome at the gateway is unknown.
type GatewayTimeoutError struct {
	Provider ProviderType
	Op       string
	Err      error
}

func (e *GatewayTimeoutError) Error() string {
	return fmt.Sprintf("%s %s timed out, outcome unknown: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayTimeoutError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or a network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsGatewayError reports whether err came from talking to a gateway.
func IsGatewayError(err error) bool {
	var reqErr *GatewayRequestError
	var respErr *GatewayResponseError
	var toErr *GatewayTimeoutError
	return errors.As(err, &reqErr) || errors.As(err, &respErr) || errors.As(err, &toErr)
}
