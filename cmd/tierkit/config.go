package main

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/config"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	storeMongo    = "mongo"
	storeRedis    = "redis"

	providerStripe = "stripe"
	providerNone   = "none"
)

// AppConfig holds process-level settings. Infrastructure packages load their
// own Config structs.
type AppConfig struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	ServiceName  string `env:"APP_NAME" envDefault:"tierkit"`
	AccountStore string `env:"ACCOUNT_STORE" envDefault:"memory"`
	UsageStore   string `env:"USAGE_STORE" envDefault:"memory"`

	// TiersFile points at a YAML catalog. Empty uses the built-in ladder
	// priced with ProPriceRef and PremiumPriceRef.
	TiersFile       string `env:"TIERS_FILE"`
	ProPriceRef     string `env:"PRO_PRICE_REF" envDefault:"price_pro"`
	PremiumPriceRef string `env:"PREMIUM_PRICE_REF" envDefault:"price_premium"`

	BillingProvider       string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	CheckoutConflictMode  string        `env:"CHECKOUT_CONFLICT_MODE" envDefault:"strict"`
	PastDueGrace          time.Duration `env:"PAST_DUE_GRACE" envDefault:"72h"`
	BillingGatewayTimeout time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"10s"`

	NotifyQueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	NotifyWorkers   int `env:"NOTIFY_WORKERS" envDefault:"2"`

	// NotifyWebhookURL receives signed change notifications when set.
	NotifyWebhookURL     string `env:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret  string `env:"NOTIFY_WEBHOOK_SECRET"`
	NotifyWebhookRetries int    `env:"NOTIFY_WEBHOOK_RETRIES" envDefault:"3"`
}

func loadAppConfig() (AppConfig, error) {
	var cfg AppConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.AccountStore {
	case storeMemory, storePostgres, storeMongo:
	default:
		return fmt.Errorf("ACCOUNT_STORE must be memory, postgres or mongo, got %q", c.AccountStore)
	}
	switch c.UsageStore {
	case storeMemory, storeRedis:
	default:
		return fmt.Errorf("USAGE_STORE must be memory or redis, got %q", c.UsageStore)
	}
	switch c.BillingProvider {
	case providerStripe, providerNone:
	default:
		return fmt.Errorf("BILLING_PROVIDER must be stripe or none, got %q", c.BillingProvider)
	}
	if _, err := subscription.ParseConflictMode(c.CheckoutConflictMode); err != nil {
		return err
	}
	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set")
	}
	if c.PastDueGrace < 0 {
		return fmt.Errorf("PAST_DUE_GRACE must not be negative")
	}
	return nil
}
