package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// NumberingHolder serves the effective numbering configuration. Values from
// an optional numbering.yml override the environment and are hot reloaded.
type NumberingHolder struct {
	current atomic.Value // holds NumberingConfig
}

// NewNumberingHolder loads numbering.yml when present and watches it for changes.
func NewNumberingHolder(cfg Config) (*NumberingHolder, error) {
	base := cfg.Numbering
	if err := validateNumberingConfig(base); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigName("numbering")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/kantoor")
	v.AddConfigPath(".")

	holder := &NumberingHolder{}
	holder.current.Store(base)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return holder, nil
		}
		return nil, err
	}

	merged, err := mergeNumbering(v, base)
	if err != nil {
		return nil, err
	}
	holder.current.Store(merged)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := mergeNumbering(v, base)
		if err != nil {
			log.Printf("[numbering-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[numbering-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticNumberingHolder returns a holder that never reloads.
func NewStaticNumberingHolder(cfg NumberingConfig) *NumberingHolder {
	holder := &NumberingHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *NumberingHolder) Get() NumberingConfig {
	return h.current.Load().(NumberingConfig)
}

func mergeNumbering(v *viper.Viper, base NumberingConfig) (NumberingConfig, error) {
	out := base
	if v.IsSet("numbering.max_attempts") {
		out.MaxAttempts = v.GetInt("numbering.max_attempts")
	}
	if prefix := strings.TrimSpace(v.GetString("numbering.prefixes.offerte")); prefix != "" {
		out.OffertePrefix = prefix
	}
	if prefix := strings.TrimSpace(v.GetString("numbering.prefixes.factuur")); prefix != "" {
		out.FactuurPrefix = prefix
	}
	if tz := strings.TrimSpace(v.GetString("numbering.timezone")); tz != "" {
		out.Timezone = tz
	}
	if err := validateNumberingConfig(out); err != nil {
		return NumberingConfig{}, err
	}
	return out, nil
}

func validateNumberingConfig(cfg NumberingConfig) error {
	if cfg.MaxAttempts <= 0 {
		return errors.New("numbering.max_attempts must be positive")
	}
	if strings.TrimSpace(cfg.OffertePrefix) == "" || strings.TrimSpace(cfg.FactuurPrefix) == "" {
		return errors.New("numbering prefixes cannot be empty")
	}
	if cfg.OffertePrefix == cfg.FactuurPrefix {
		return errors.New("numbering prefixes must differ per document kind")
	}
	return nil
}
