package provider

import (
	"fmt"

	"masjidpay/internal/domain/credential"
)

// GetAvailableProviders returns a list of all provider types the service knows about
func GetAvailableProviders() []ProviderType {
	return []ProviderType{
		ProviderBillplz,
		ProviderToyyibPay,
	}
}

// IsProviderSupported checks if a provider type is supported
func IsProviderSupported(providerType ProviderType) bool {
	for _, available := range GetAvailableProviders() {
		if available == providerType {
			return true
		}
	}
	return false
}

// ParseProviderType turns a path or form value into a known provider type.
func ParseProviderType(raw string) (ProviderType, error) {
	t := credential.ParseProviderType(raw)
	if !IsProviderSupported(t) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
	return t, nil
}
