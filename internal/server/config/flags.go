package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/quickide/internal/flagx"
)

var knownFlags = []string{
	"-a", "-g", "-d", "-s", "-e", "-t", "-o", "-l",
}

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   HTTP bind address (e.g. ":5000")
//	-g string   gRPC health bind address
//	-d string   database DSN (postgres URL or sqlite:<path>)
//	-s string   JWT HMAC secret key
//	-e string   compute engine base URL
//	-t duration upstream timeout (e.g. "30s")
//	-o string   OTLP/HTTP trace endpoint; empty disables export
//	-l string   log level
//
// Only these flags are parsed; others (such as -c) are filtered out first.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "a", cfg.HTTPAddr, "HTTP address and port")
	fs.StringVar(&cfg.HealthAddrGRPC, "g", cfg.HealthAddrGRPC, "gRPC health address and port")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "secret key")
	fs.StringVar(&cfg.EngineURL, "e", cfg.EngineURL, "compute engine URL")
	fs.DurationVar(&cfg.UpstreamTimeout, "t", cfg.UpstreamTimeout, "upstream timeout")
	fs.StringVar(&cfg.OTLPEndpoint, "o", cfg.OTLPEndpoint, "OTLP trace endpoint")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
