package telemetry

import "codeberg.org/mutker/sensord/internal/errors"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/sensord/telemetry.db"
)

type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout int
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:  defaultDBPath,
		Enabled: false, // Disabled by default
	}
}

func (c Config) Validate() error {
	// Only validate DBPath if telemetry is enabled
	if c.Enabled && c.DBPath == "" {
		return errors.New(ErrInvalidDBPath)
	}
	return nil
}
