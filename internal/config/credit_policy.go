package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	// PendingModeOrders derives pending credit from draft, submitted and
	// processing orders.
	PendingModeOrders = "orders"
	// PendingModeZero always reports pending credit as zero.
	PendingModeZero = "zero"
)

// CreditPolicy holds the tunables that may change without a restart.
type CreditPolicy struct {
	PendingMode        string `mapstructure:"pendingMode"`
	RecentTransactions int    `mapstructure:"recentTransactions"`
	DriftTolerance     string `mapstructure:"driftTolerance"`
}

func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		PendingMode:        PendingModeOrders,
		RecentTransactions: 10,
		DriftTolerance:     "0",
	}
}

type CreditPolicyHolder struct {
	current atomic.Value // holds CreditPolicy
}

// NewStaticCreditPolicyHolder returns a holder that never reloads.
func NewStaticCreditPolicyHolder(p CreditPolicy) *CreditPolicyHolder {
	h := &CreditPolicyHolder{}
	h.current.Store(p)
	return h
}

func NewCreditPolicyHolder() (*CreditPolicyHolder, error) {
	return newCreditPolicyHolder("/etc/tradecredit", ".")
}

func newCreditPolicyHolder(paths ...string) (*CreditPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("credit")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("TRADECREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCreditPolicy()
	v.SetDefault("credit.pendingMode", defaults.PendingMode)
	v.SetDefault("credit.recentTransactions", defaults.RecentTransactions)
	v.SetDefault("credit.driftTolerance", defaults.DriftTolerance)

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
	}

	var cfg CreditPolicy
	if err := v.UnmarshalKey("credit", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeCreditPolicy(cfg)
	if err := validateCreditPolicy(cfg); err != nil {
		return nil, err
	}

	holder := &CreditPolicyHolder{}
	holder.current.Store(cfg)

	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditPolicy
		if err := v.UnmarshalKey("credit", &updated); err != nil {
			log.Printf("[credit-policy] reload failed: %v", err)
			return
		}
		updated = normalizeCreditPolicy(updated)
		if err := validateCreditPolicy(updated); err != nil {
			log.Printf("[credit-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credit-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CreditPolicyHolder) Get() CreditPolicy {
	if h == nil {
		return DefaultCreditPolicy()
	}
	return h.current.Load().(CreditPolicy)
}

func normalizeCreditPolicy(cfg CreditPolicy) CreditPolicy {
	cfg.PendingMode = strings.ToLower(strings.TrimSpace(cfg.PendingMode))
	cfg.DriftTolerance = strings.TrimSpace(cfg.DriftTolerance)
	if cfg.DriftTolerance == "" {
		cfg.DriftTolerance = "0"
	}
	return cfg
}

func validateCreditPolicy(cfg CreditPolicy) error {
	switch cfg.PendingMode {
	case PendingModeOrders, PendingModeZero:
	default:
		return errors.New("credit.pendingMode must be orders or zero")
	}
	if cfg.RecentTransactions <= 0 || cfg.RecentTransactions > 100 {
		return errors.New("credit.recentTransactions must be between 1 and 100")
	}
	if strings.HasPrefix(cfg.DriftTolerance, "-") {
		return errors.New("credit.driftTolerance cannot be negative")
	}
	return nil
}
