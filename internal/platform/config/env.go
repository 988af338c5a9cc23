package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from environment variables declared with `env` tags.
// Every dub variable uses the DUB_ prefix; defaults come from `envDefault`
// tags so a bare environment still yields a runnable configuration.
func ParseEnv(target any) error {
	if target == nil {
		return errors.New("parse env: nil target")
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
