package featbuild

import (
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/powerfeat/pkg/config"
	"github.com/malbeclabs/powerfeat/pkg/duck"
)

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	DB       duck.DB
	Settings *config.Settings

	// S3 is required when any input or output lives on S3.
	S3 *duck.S3Config

	// ForceSysinfo re-encodes the device table even when a cached encoding exists.
	ForceSysinfo bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DB == nil {
		return errors.New("db is required")
	}
	if c.Settings == nil {
		return errors.New("settings are required")
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}
