package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/shuttlehq/shuttle/pkg/contract"
	"go.uber.org/fx"
)

var Module = fx.Module("config", fx.Provide(
	// Function attempts to load the configuration from shuttle.yaml if it
	// exists. Returns nil if the file doesn't exist, allowing commands that
	// don't require config (like help, version) to function properly.
	func() (*Config, error) {
		if _, err := os.Stat("shuttle.yaml"); os.IsNotExist(err) {
			return nil, nil
		}

		return LoadConfigFile("shuttle.yaml")
	},
	// The contract book is loaded lazily so commands that never touch
	// contracts still start without one.
	func(c *Config) func() (*contract.Book, error) {
		return func() (*contract.Book, error) {
			if c == nil {
				return nil, errors.New("shuttle.yaml not found")
			}

			return contract.LoadFile(c.Contracts)
		}
	},
))
