package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"masjidpay/internal/crypto"
)

type AppCfg struct{ Env, Port, BaseURL, CallbackBaseURL string }
type DBCfg struct{ DSN string }

type RedisCfg struct {
	Addr     string
	DedupTTL time.Duration // how long a reconciled callback is remembered
}

type SecurityCfg struct {
	AESKey     []byte
	AdminToken string // X-Admin-Token for /admin
	APIToken   string // bearer token for /api/v1
}

type LogCfg struct{ Level, Format string }

type GatewayCfg struct {
	Timeout             time.Duration
	BillplzURL          string
	BillplzSandboxURL   string
	ToyyibPayURL        string
	ToyyibPaySandboxURL string
	PersistRetryMax     int
}

type ReconcileCfg struct {
	Every      time.Duration
	StaleAfter time.Duration
	Batch      int
}

type Cfg struct {
	App       AppCfg
	DB        DBCfg
	Redis     RedisCfg
	Sec       SecurityCfg
	Log       LogCfg
	Gateway   GatewayCfg
	Reconcile ReconcileCfg
}

// SetDefaults registers the default for every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "sandbox")
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("TZ", "Asia/Kuala_Lumpur")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CALLBACK_DEDUP_TTL", "24h")
	v.SetDefault("GATEWAY_TIMEOUT", "30s")
	v.SetDefault("BILLPLZ_BASE_URL", "https://www.billplz.com")
	v.SetDefault("BILLPLZ_SANDBOX_BASE_URL", "https://www.billplz-sandbox.com")
	v.SetDefault("TOYYIBPAY_BASE_URL", "https://toyyibpay.com")
	v.SetDefault("TOYYIBPAY_SANDBOX_BASE_URL", "https://dev.toyyibpay.com")
	v.SetDefault("RECONCILE_EVERY", "5m")
	v.SetDefault("RECONCILE_STALE_AFTER", "15m")
	v.SetDefault("RECONCILE_BATCH", 50)
	v.SetDefault("PERSIST_RETRY_MAX", 3)
}

// FromViper builds and validates a Cfg.
func FromViper(v *viper.Viper) (Cfg, error) {
	cfg := Cfg{
		App: AppCfg{
			Env:             v.GetString("APP_ENV"),
			Port:            v.GetString("APP_PORT"),
			BaseURL:         strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
			CallbackBaseURL: strings.TrimRight(v.GetString("CALLBACK_BASE_URL"), "/"),
		},
		DB: DBCfg{DSN: strings.TrimSpace(v.GetString("DB_DSN"))},
		Redis: RedisCfg{
			Addr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			DedupTTL: v.GetDuration("CALLBACK_DEDUP_TTL"),
		},
		Sec: SecurityCfg{
			AdminToken: strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
			APIToken:   strings.TrimSpace(v.GetString("API_TOKEN")),
		},
		Log: LogCfg{Level: v.GetString("LOG_LEVEL"), Format: v.GetString("LOG_FORMAT")},
		Gateway: GatewayCfg{
			Timeout:             v.GetDuration("GATEWAY_TIMEOUT"),
			BillplzURL:          v.GetString("BILLPLZ_BASE_URL"),
			BillplzSandboxURL:   v.GetString("BILLPLZ_SANDBOX_BASE_URL"),
			ToyyibPayURL:        v.GetString("TOYYIBPAY_BASE_URL"),
			ToyyibPaySandboxURL: v.GetString("TOYYIBPAY_SANDBOX_BASE_URL"),
			PersistRetryMax:     v.GetInt("PERSIST_RETRY_MAX"),
		},
		Reconcile: ReconcileCfg{
			Every:      v.GetDuration("RECONCILE_EVERY"),
			StaleAfter: v.GetDuration("RECONCILE_STALE_AFTER"),
			Batch:      v.GetInt("RECONCILE_BATCH"),
		},
	}
	if cfg.App.CallbackBaseURL == "" {
		cfg.App.CallbackBaseURL = cfg.App.BaseURL
	}

	if cfg.DB.DSN == "" {
		return cfg, errors.New("DB_DSN is required")
	}
	if cfg.App.CallbackBaseURL == "" {
		return cfg, errors.New("CALLBACK_BASE_URL or APP_BASE_URL is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v.GetString("AES_256_KEY_BASE64")))
	if err != nil || len(key) != crypto.KeySize {
		return cfg, fmt.Errorf("AES_256_KEY_BASE64 must be a valid %d-byte base64 key", crypto.KeySize)
	}
	cfg.Sec.AESKey = key
	if cfg.Gateway.Timeout <= 0 {
		return cfg, errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if cfg.Gateway.PersistRetryMax < 0 {
		cfg.Gateway.PersistRetryMax = 0
	}
	return cfg, nil
}

// Load reads .env (if present) and the environment, and exits on invalid settings.
func Load() Cfg {
	_ = godotenv.Load()

	v := viper.GetViper()
	v.AutomaticEnv()
	SetDefaults(v)

	if tz := v.GetString("TZ"); tz != "" {
		_ = os.Setenv("TZ", tz)
	}

	cfg, err := FromViper(v)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}
