package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CheckoutSettings holds the processor fee formula and donation bounds.
// Values are in major currency units.
type CheckoutSettings struct {
	FixedFee      float64 `mapstructure:"fixedFee"`
	PercentageFee float64 `mapstructure:"percentageFee"`
	MinAmount     float64 `mapstructure:"minAmount"`
	MaxAmount     float64 `mapstructure:"maxAmount"`
	Currency      string  `mapstructure:"currency"`
	DonationLabel string  `mapstructure:"donationLabel"`
	SponsorLabel  string  `mapstructure:"sponsorLabel"`
}

func DefaultCheckoutSettings() CheckoutSettings {
	return CheckoutSettings{
		FixedFee:      0.30,
		PercentageFee: 0.029,
		MinAmount:     5,
		MaxAmount:     100000,
		Currency:      "usd",
		DonationLabel: "Donation",
		SponsorLabel:  "Sponsorship",
	}
}

type CheckoutSettingsHolder struct {
	current atomic.Value // holds CheckoutSettings
}

// NewStaticCheckoutSettings returns a holder that never reloads.
func NewStaticCheckoutSettings(settings CheckoutSettings) *CheckoutSettingsHolder {
	holder := &CheckoutSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func NewCheckoutSettingsHolder() (*CheckoutSettingsHolder, error) {
	v := viper.New()

	v.SetConfigName("checkout")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/ledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutSettings()
	v.SetDefault("checkout.fixedFee", defaults.FixedFee)
	v.SetDefault("checkout.percentageFee", defaults.PercentageFee)
	v.SetDefault("checkout.minAmount", defaults.MinAmount)
	v.SetDefault("checkout.maxAmount", defaults.MaxAmount)
	v.SetDefault("checkout.currency", defaults.Currency)
	v.SetDefault("checkout.donationLabel", defaults.DonationLabel)
	v.SetDefault("checkout.sponsorLabel", defaults.SponsorLabel)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg CheckoutSettings
	if err := v.UnmarshalKey("checkout", &cfg); err != nil {
		return nil, err
	}
	if err := validateCheckoutSettings(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCheckoutSettings(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CheckoutSettings
		if err := v.UnmarshalKey("checkout", &updated); err != nil {
			log.Printf("[checkout-config] reload failed: %v", err)
			return
		}
		if err := validateCheckoutSettings(updated); err != nil {
			log.Printf("[checkout-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[checkout-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CheckoutSettingsHolder) Get() CheckoutSettings {
	if h == nil {
		return DefaultCheckoutSettings()
	}
	return h.current.Load().(CheckoutSettings)
}

func validateCheckoutSettings(cfg CheckoutSettings) error {
	if cfg.FixedFee < 0 {
		return errors.New("checkout.fixedFee cannot be negative")
	}
	if cfg.PercentageFee < 0 || cfg.PercentageFee >= 1 {
		return errors.New("checkout.percentageFee must be in [0, 1)")
	}
	if cfg.MinAmount <= 0 || cfg.MaxAmount < cfg.MinAmount {
		return errors.New("checkout amount bounds are invalid")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		return errors.New("checkout.currency cannot be empty")
	}
	return nil
}
