// Package session parses session command flags and composes the real-time
// session service entrypoint.
package session

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/cityofconcourse/concourse/internal/platform/cmd"
	server "github.com/cityofconcourse/concourse/internal/services/session/app"
)

// Config holds session command configuration.
type Config struct {
	HTTPAddr    string `env:"CONCOURSE_SESSION_HTTP_ADDR"   envDefault:":8087"`
	PublicHost  string `env:"CONCOURSE_SESSION_PUBLIC_HOST"`
	HostID      string `env:"CONCOURSE_SESSION_HOST_ID"`
	StoragePath string `env:"CONCOURSE_SESSION_DB_PATH"     envDefault:"session.db"`
	TokenSecret string `env:"CONCOURSE_SESSION_TOKEN_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "session HTTP listen address")
	fs.StringVar(&cfg.PublicHost, "public-host", cfg.PublicHost, "host:port clients reach this process on")
	fs.StringVar(&cfg.HostID, "host-id", cfg.HostID, "stable identifier for this host in session records")
	fs.StringVar(&cfg.StoragePath, "db-path", cfg.StoragePath, "session SQLite database path")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "access token verification secret")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the session app and serves real-time session coordination.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSession, func(ctx context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:    cfg.HTTPAddr,
			PublicHost:  cfg.PublicHost,
			HostID:      cfg.HostID,
			StoragePath: cfg.StoragePath,
			TokenSecret: cfg.TokenSecret,
		}); err != nil {
			return fmt.Errorf("serve session: %w", err)
		}
		return nil
	})
}
