package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dmitrijs2005/openemail/internal/flagx"
)

// duration decodes "30s"-style strings in both JSON and TOML files.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// fileConfig is a DTO used exclusively for file decoding. Absent keys stay
// nil and leave the current value untouched.
type fileConfig struct {
	DataDir              *string   `json:"data_dir" toml:"data_dir"`
	DocumentsDir         *string   `json:"documents_dir" toml:"documents_dir"`
	LogLevel             *string   `json:"log_level" toml:"log_level"`
	LogFormat            *string   `json:"log_format" toml:"log_format"`
	HTTPTimeout          *duration `json:"http_timeout" toml:"http_timeout"`
	DelegationCacheTTL   *duration `json:"delegation_cache_ttl" toml:"delegation_cache_ttl"`
	ProfileCacheTTL      *duration `json:"profile_cache_ttl" toml:"profile_cache_ttl"`
	VerifyHostDelegation *bool     `json:"verify_host_delegation" toml:"verify_host_delegation"`
	MaxMessageSize       *int64    `json:"max_message_size" toml:"max_message_size"`
	RetryAttempts        *int      `json:"retry_attempts" toml:"retry_attempts"`
	RetryDelay           *duration `json:"retry_delay" toml:"retry_delay"`
	Scheme               *string   `json:"scheme" toml:"scheme"`
	SyncInterval         *duration `json:"sync_interval" toml:"sync_interval"`
}

// parseFile overlays Config with values loaded from the file named by -c or
// -config. Files ending in .toml are decoded as TOML, anything else as JSON.
// Read and decode errors panic, as flag errors do.
func parseFile(cfg *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}
	if err := loadFile(cfg, path); err != nil {
		panic(err)
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setIf(&cfg.DataDir, fc.DataDir)
	setIf(&cfg.DocumentsDir, fc.DocumentsDir)
	setIf(&cfg.LogLevel, fc.LogLevel)
	setIf(&cfg.LogFormat, fc.LogFormat)
	setIf(&cfg.VerifyHostDelegation, fc.VerifyHostDelegation)
	setIf(&cfg.MaxMessageSize, fc.MaxMessageSize)
	setIf(&cfg.RetryAttempts, fc.RetryAttempts)
	setIf(&cfg.Scheme, fc.Scheme)
	setDuration(&cfg.HTTPTimeout, fc.HTTPTimeout)
	setDuration(&cfg.DelegationCacheTTL, fc.DelegationCacheTTL)
	setDuration(&cfg.ProfileCacheTTL, fc.ProfileCacheTTL)
	setDuration(&cfg.RetryDelay, fc.RetryDelay)
	setDuration(&cfg.SyncInterval, fc.SyncInterval)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *duration) {
	if v != nil {
		*dst = v.Duration
	}
}
