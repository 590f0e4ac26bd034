package resolver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"masjidpay/internal/crypto"
	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/billplz"
	"masjidpay/internal/provider/toyyibpay"
	"masjidpay/internal/services/resolver"
)

type fakeRepo struct {
	configs []*credential.ProviderConfig
	err     error
	calls   int
}

func (f *fakeRepo) FindActive(_ context.Context, tenantID int64, pt credential.ProviderType) ([]*credential.ProviderConfig, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []*credential.ProviderConfig
	for _, c := range f.configs {
		if c.TenantID == tenantID && c.ProviderType == pt && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

var key = []byte("0123456789abcdef0123456789abcdef")

func sealed(t *testing.T, tenantID int64, pt credential.ProviderType, fields map[string]string) *credential.ProviderConfig {
	t.Helper()
	cfg, err := credential.NewProviderConfig(tenantID, pt, true)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, cfg.SetEncryptedField(k, v, key))
	}
	return cfg
}

func newResolver(repo *fakeRepo) *resolver.Resolver {
	reg := provider.NewRegistry(billplz.New(nil, billplz.Endpoints{}), toyyibpay.New(nil, toyyibpay.Endpoints{}))
	return resolver.New(repo, reg, key)
}

func TestResolve(t *testing.T) {
	repo := &fakeRepo{configs: []*credential.ProviderConfig{
		sealed(t, 1, credential.ProviderBillplz, map[string]string{
			credential.FieldAPIKey:        "k",
			credential.FieldXSignatureKey: "x",
			credential.FieldCollectionID:  "c",
		}),
	}}
	r := newResolver(repo)

	cfg, err := r.Resolve(context.Background(), 1, provider.ProviderBillplz)
	require.NoError(t, err)
	require.Equal(t, "k", cfg.Credential(credential.FieldAPIKey))
	require.Equal(t, "x", cfg.Credential(credential.FieldXSignatureKey))
	require.True(t, cfg.IsSandbox)
}

func TestResolveNotConfigured(t *testing.T) {
	repo := &fakeRepo{configs: []*credential.ProviderConfig{
		sealed(t, 1, credential.ProviderBillplz, map[string]string{credential.FieldAPIKey: "k"}),
	}}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), 2, provider.ProviderBillplz)
	require.ErrorIs(t, err, resolver.ErrNotConfigured)

	_, err = r.Resolve(context.Background(), 1, provider.ProviderToyyibPay)
	require.ErrorIs(t, err, resolver.ErrNotConfigured)

	repo.configs[0].Deactivate()
	_, err = r.Resolve(context.Background(), 1, provider.ProviderBillplz)
	require.ErrorIs(t, err, resolver.ErrNotConfigured)
}

func TestResolvePartialConfiguration(t *testing.T) {
	repo := &fakeRepo{configs: []*credential.ProviderConfig{
		sealed(t, 1, credential.ProviderToyyibPay, map[string]string{credential.FieldSecretKey: "s"}),
	}}
	_, err := newResolver(repo).Resolve(context.Background(), 1, provider.ProviderToyyibPay)

	var cerr *resolver.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, []string{credential.FieldCategoryCode}, cerr.Missing)
	require.NotErrorIs(t, err, resolver.ErrNotConfigured)
}

func TestResolveDuplicateActive(t *testing.T) {
	fields := map[string]string{credential.FieldSecretKey: "s", credential.FieldCategoryCode: "c"}
	repo := &fakeRepo{configs: []*credential.ProviderConfig{
		sealed(t, 1, credential.ProviderToyyibPay, fields),
		sealed(t, 1, credential.ProviderToyyibPay, fields),
	}}
	_, err := newResolver(repo).Resolve(context.Background(), 1, provider.ProviderToyyibPay)

	var cerr *resolver.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Contains(t, cerr.Reason, "2 active")
}

func TestResolveUndecryptable(t *testing.T) {
	cfg, err := credential.NewProviderConfig(1, credential.ProviderToyyibPay, false)
	require.NoError(t, err)
	other := []byte("ffffffffffffffffffffffffffffffff")
	enc, err := crypto.EncryptString(other, "s")
	require.NoError(t, err)
	cfg.EncryptedCredentials[credential.FieldSecretKey] = enc

	_, err = newResolver(&fakeRepo{configs: []*credential.ProviderConfig{cfg}}).Resolve(context.Background(), 1, provider.ProviderToyyibPay)
	var cerr *resolver.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	require.Contains(t, cerr.Reason, "decrypt")
}

func TestResolveUnknownProviderAndStoreError(t *testing.T) {
	repo := &fakeRepo{}
	r := newResolver(repo)

	_, err := r.Resolve(context.Background(), 1, "paypal")
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
	require.Zero(t, repo.calls)

	repo.err = errors.New("connection refused")
	_, err = r.Resolve(context.Background(), 1, provider.ProviderBillplz)
	require.ErrorContains(t, err, "connection refused")
}
