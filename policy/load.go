package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Empty fields keep the defaults.
type fileConfig struct {
	Fees struct {
		Publish  string `yaml:"publish"`
		Recovery string `yaml:"recovery"`
		Booking  string `yaml:"booking"`
	} `yaml:"fees"`
	Lease struct {
		LockDuration  string `yaml:"lock_duration"`
		RenewalPeriod string `yaml:"renewal_period"`
	} `yaml:"lease"`
}

// LoadConfig reads a fee schedule from a YAML file such as:
//
//	fees:
//	  publish: "100"
//	  recovery: "100"
//	  booking: "100"
//	lease:
//	  lock_duration: 720h
//	  renewal_period: 720h
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML fee schedule on top of Default and validates it.
func Parse(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse policy file: %w", err)
	}

	cfg := Default()
	var err error
	if cfg.PublishFee, err = decimalOr(fc.Fees.Publish, cfg.PublishFee); err != nil {
		return Config{}, fmt.Errorf("fees.publish: %w", err)
	}
	if cfg.RecoveryFee, err = decimalOr(fc.Fees.Recovery, cfg.RecoveryFee); err != nil {
		return Config{}, fmt.Errorf("fees.recovery: %w", err)
	}
	if cfg.BookingFee, err = decimalOr(fc.Fees.Booking, cfg.BookingFee); err != nil {
		return Config{}, fmt.Errorf("fees.booking: %w", err)
	}
	if cfg.LockDuration, err = durationOr(fc.Lease.LockDuration, cfg.LockDuration); err != nil {
		return Config{}, fmt.Errorf("lease.lock_duration: %w", err)
	}
	if cfg.RenewalPeriod, err = durationOr(fc.Lease.RenewalPeriod, cfg.RenewalPeriod); err != nil {
		return Config{}, fmt.Errorf("lease.renewal_period: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decimalOr(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}

func durationOr(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
