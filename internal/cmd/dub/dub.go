// Package dub parses the dub command flags and composes the runtime
// entrypoint.
package dub

import (
	"context"
	"flag"
	"fmt"

	"github.com/dubapp/dub/internal/app"
	entrypoint "github.com/dubapp/dub/internal/platform/cmd"
)

// Config holds dub command configuration.
type Config struct {
	HTTPAddr   string `env:"DUB_HTTP_ADDR"   envDefault:":8090"`
	DBPath     string `env:"DUB_DB_PATH"     envDefault:"dub.db"`
	MediaDir   string `env:"DUB_MEDIA_DIR"   envDefault:"media"`
	AuthSecret string `env:"DUB_AUTH_SECRET" envDefault:"local-dev-secret"`
	UserName   string `env:"DUB_USER_NAME"   envDefault:"guest"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.MediaDir, "media-dir", cfg.MediaDir, "media storage directory")
	fs.StringVar(&cfg.UserName, "user-name", cfg.UserName, "display name to sign in with")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the app and serves until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDub, func(context.Context) error {
		if err := app.Run(ctx, app.Config{
			HTTPAddr:   cfg.HTTPAddr,
			DBPath:     cfg.DBPath,
			MediaDir:   cfg.MediaDir,
			AuthSecret: cfg.AuthSecret,
			UserName:   cfg.UserName,
		}); err != nil {
			return fmt.Errorf("serve dub: %w", err)
		}
		return nil
	})
}
