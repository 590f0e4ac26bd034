// Command sealcred seals and opens provider credential values and stores
// provider configurations.
//
//	sealcred encrypt <plaintext>
//	sealcred decrypt <ciphertext>
//	sealcred put -tenant 7 -provider billplz [-production] api_key=... x_signature_key=... collection_id=...
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"masjidpay/internal/crypto"
	"masjidpay/internal/domain/credential"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/billplz"
	"masjidpay/internal/provider/toyyibpay"
	"masjidpay/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()
	viper.AutomaticEnv()

	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "encrypt":
		err = encrypt(os.Args[2:])
	case "decrypt":
		err = decrypt(os.Args[2:])
	case "put":
		err = put(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sealcred:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sealcred encrypt <plaintext> | decrypt <ciphertext> | put -tenant N -provider P [-production] field=value...")
	os.Exit(2)
}

func aesKey() ([]byte, error) {
	raw := strings.TrimSpace(viper.GetString("AES_256_KEY_BASE64"))
	if raw == "" {
		return nil, fmt.Errorf("AES_256_KEY_BASE64 is not set")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(key) != crypto.KeySize {
		return nil, fmt.Errorf("AES_256_KEY_BASE64 must be valid base64 of %d bytes", crypto.KeySize)
	}
	return key, nil
}

func encrypt(args []string) error {
	if len(args) != 1 {
		usage()
	}
	key, err := aesKey()
	if err != nil {
		return err
	}
	enc, err := crypto.EncryptString(key, args[0])
	if err != nil {
		return err
	}
	fmt.Println(enc)
	return nil
}

func decrypt(args []string) error {
	if len(args) != 1 {
		usage()
	}
	key, err := aesKey()
	if err != nil {
		return err
	}
	pt, err := crypto.DecryptString(key, args[0])
	if err != nil {
		return err
	}
	fmt.Println(pt)
	return nil
}

func put(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id")
	providerName := fs.String("provider", "", "billplz or toyyibpay")
	production := fs.Bool("production", false, "use the production gateway")
	_ = fs.Parse(args)

	registry := provider.NewRegistry(billplz.New(nil, billplz.Endpoints{}), toyyibpay.New(nil, toyyibpay.Endpoints{}))
	pt, err := provider.ParseProviderType(*providerName)
	if err != nil {
		return err
	}
	adapter, err := registry.Get(pt)
	if err != nil {
		return err
	}

	key, err := aesKey()
	if err != nil {
		return err
	}
	cfg, err := credential.NewProviderConfig(*tenantID, pt, !*production)
	if err != nil {
		return err
	}
	plain := map[string]string{}
	for _, kv := range fs.Args() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected field=value, got %q", kv)
		}
		plain[name] = value
		if err := cfg.SetEncryptedField(name, value, key); err != nil {
			return err
		}
	}
	if missing := cfg.WithCredentials(plain).MissingFields(provider.RequiredNames(adapter.RequiredCredentialFields())); len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	dsn := strings.TrimSpace(viper.GetString("DB_DSN"))
	if dsn == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := postgres.Open(ctx, dsn, 10*time.Second)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.NewProviderConfigRepository(pool).Save(ctx, cfg); err != nil {
		return err
	}
	fmt.Printf("saved %s config %d for tenant %d (%s)\n", pt, cfg.ID, cfg.TenantID, cfg.Environment())
	return nil
}
