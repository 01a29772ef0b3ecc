package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/openemail/internal/common"
)

// Config holds runtime settings for the OpenEmail CLI.
//
// Fields:
//   - DataDir: folder holding the local database.
//   - DocumentsDir: root of downloaded attachments and scratch files.
//   - LogLevel: debug, info, warn or error.
//   - LogFormat: "json" or "text" for the stderr log handler.
//   - HTTPTimeout: how long to wait for a host's response headers.
//   - DelegationCacheTTL, ProfileCacheTTL: lifetimes of the lookup caches.
//   - VerifyHostDelegation: probe every delegated host before use.
//   - MaxMessageSize: attachment part size in bytes.
//   - RetryAttempts, RetryDelay: fixed-delay retry of uploads and downloads.
//   - Scheme: "https", or "http" against local test agents.
//   - SyncInterval: period of background sync in the shell; 0 disables it.
type Config struct {
	DataDir              string
	DocumentsDir         string
	LogLevel             string
	LogFormat            string
	HTTPTimeout          time.Duration
	DelegationCacheTTL   time.Duration
	ProfileCacheTTL      time.Duration
	VerifyHostDelegation bool
	MaxMessageSize       int64
	RetryAttempts        int
	RetryDelay           time.Duration
	Scheme               string
	SyncInterval         time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = defaultDataDir()
	c.DocumentsDir = documentsIn(c.DataDir)
	c.LogLevel = "info"
	c.LogFormat = "json"
	c.HTTPTimeout = 30 * time.Second
	c.DelegationCacheTTL = common.DelegationCacheTTL
	c.ProfileCacheTTL = common.ProfileCacheTTL
	c.VerifyHostDelegation = false
	c.MaxMessageSize = common.MaxMessageSize
	c.RetryAttempts = common.DefaultRetryAttempts
	c.RetryDelay = common.DefaultRetryDelay
	c.Scheme = "https"
	c.SyncInterval = 5 * time.Minute
}

// JSONLogs reports whether logs are written as JSON. Only "text" selects
// the text handler.
func (c *Config) JSONLogs() bool {
	return !strings.EqualFold(c.LogFormat, "text")
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "openemail.db")
}

func documentsIn(dataDir string) string {
	return filepath.Join(dataDir, "documents")
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "openemail")
	}
	return ".openemail"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// a JSON or TOML file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
