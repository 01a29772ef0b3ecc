package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/openemail/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data folder (default from Config)
//	-l string   log level (default from Config)
//	-t int      HTTP timeout in seconds (default from Config)
//	-v          verify host delegation
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-l", "-t", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	dataDir := fs.String("d", cfg.DataDir, "data folder")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level: debug, info, warn, error")
	timeout := fs.Int("t", int(cfg.HTTPTimeout.Seconds()), "HTTP timeout (in seconds)")
	fs.BoolVar(&cfg.VerifyHostDelegation, "v", cfg.VerifyHostDelegation, "verify host delegation")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// A data folder given on the command line also moves the default
	// documents folder along with it.
	if *dataDir != cfg.DataDir {
		if cfg.DocumentsDir == "" || cfg.DocumentsDir == documentsIn(cfg.DataDir) {
			cfg.DocumentsDir = documentsIn(*dataDir)
		}
		cfg.DataDir = *dataDir
	}
	cfg.HTTPTimeout = time.Duration(*timeout) * time.Second
}
