package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig is the TOML form of a RetryPolicy. Unset fields keep the value of
// the policy the config is applied to. Durations use time.ParseDuration syntax.
//
//	max_delay = "30s"
//	attempt_timeout = "30s"
//	idempotent_only = false
//
//	[network]
//	max_retries = 3
//	base_delay = "1s"
//	backoff = "exponential"
//
//	[server]
//	max_retries = 2
//	base_delay = "1s"
//	backoff = "linear"
type FileConfig struct {
	MaxDelay       *string    `toml:"max_delay"`
	AttemptTimeout *string    `toml:"attempt_timeout"`
	IdempotentOnly *bool      `toml:"idempotent_only"`
	Network        *ClassFile `toml:"network"`
	Server         *ClassFile `toml:"server"`
}

type ClassFile struct {
	MaxRetries *int    `toml:"max_retries"`
	BaseDelay  *string `toml:"base_delay"`
	Backoff    *string `toml:"backoff"`
}

// Apply overlays f onto base and normalizes the result.
func (f FileConfig) Apply(base RetryPolicy) (RetryPolicy, error) {
	p := base

	if err := setDuration(&p.MaxDelay, f.MaxDelay, "max_delay"); err != nil {
		return RetryPolicy{}, err
	}
	if err := setDuration(&p.AttemptTimeout, f.AttemptTimeout, "attempt_timeout"); err != nil {
		return RetryPolicy{}, err
	}
	if f.IdempotentOnly != nil {
		p.IdempotentOnly = *f.IdempotentOnly
	}
	if err := f.Network.apply(&p.Network, "network"); err != nil {
		return RetryPolicy{}, err
	}
	if err := f.Server.apply(&p.Server, "server"); err != nil {
		return RetryPolicy{}, err
	}

	return p.Normalize()
}

func (c *ClassFile) apply(dst *ClassPolicy, prefix string) error {
	if c == nil {
		return nil
	}
	if c.MaxRetries != nil {
		dst.MaxRetries = *c.MaxRetries
	}
	if err := setDuration(&dst.BaseDelay, c.BaseDelay, prefix+".base_delay"); err != nil {
		return err
	}
	if c.Backoff != nil {
		dst.Backoff = Backoff(strings.ToLower(strings.TrimSpace(*c.Backoff)))
	}
	return nil
}

func setDuration(dst *time.Duration, raw *string, field string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return &NormalizeError{Field: field, Value: *raw}
	}
	*dst = d
	return nil
}

// Parse decodes a TOML policy on top of DefaultRetryPolicy.
func Parse(data []byte) (RetryPolicy, error) {
	var f FileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return RetryPolicy{}, fmt.Errorf("parse retry policy: %w", err)
	}
	return f.Apply(DefaultRetryPolicy())
}

// Load reads a TOML policy file. A missing file yields the defaults.
func Load(path string) (RetryPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRetryPolicy().Normalize()
		}
		return RetryPolicy{}, fmt.Errorf("read retry policy: %w", err)
	}
	return Parse(data)
}
