// Package config holds the settings the portos command reads from a TOML
// file. Library packages never read files themselves; the command turns a
// Config into the option structs each package accepts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/walteh/portos/pkg/log"
)

// Duration is a time.Duration that decodes from TOML strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level configuration.
type Config struct {
	Log      Log      `toml:"log"`
	Mutex    Mutex    `toml:"mutex"`
	Transfer Transfer `toml:"transfer"`
}

// Log configures pkg/log.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Mutex configures pkg/procmutex.
type Mutex struct {
	// Namespace is the directory holding named lock files. Every process
	// that must share a named mutex needs the same namespace.
	Namespace string `toml:"namespace"`

	// PollInterval bounds how often TimedLock re-checks a contended lock.
	PollInterval Duration `toml:"poll_interval"`
}

// Transfer configures pkg/sockio.
type Transfer struct {
	// SegmentSize caps the bytes handed to one zero-copy call.
	SegmentSize int `toml:"segment_size"`

	// StagingSize is the header/trailer coalescing buffer size.
	StagingSize int `toml:"staging_size"`

	// Timeout is the default socket timeout. Negative means infinite.
	Timeout Duration `toml:"timeout"`

	// RateBytes limits send-file throughput in bytes per second. Zero
	// disables pacing.
	RateBytes int `toml:"rate_bytes"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Mutex: Mutex{
			Namespace:    filepath.Join(os.TempDir(), "portos-locks"),
			PollInterval: Duration{10 * time.Millisecond},
		},
		Transfer: Transfer{
			SegmentSize: 64 << 10,
			StagingSize: 4 << 10,
			Timeout:     Duration{-1},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Config{}, fmt.Errorf("decoding %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decoding %q: unknown keys %v", path, undecoded)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating %q: %w", path, err)
	}
	return c, nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Mutex.Namespace == "" {
		return fmt.Errorf("mutex.namespace must not be empty")
	}
	if c.Mutex.PollInterval.Duration <= 0 {
		return fmt.Errorf("mutex.poll_interval must be positive, got %v", c.Mutex.PollInterval)
	}
	if c.Transfer.SegmentSize <= 0 {
		return fmt.Errorf("transfer.segment_size must be positive, got %d", c.Transfer.SegmentSize)
	}
	if c.Transfer.StagingSize < 0 {
		return fmt.Errorf("transfer.staging_size must not be negative, got %d", c.Transfer.StagingSize)
	}
	if c.Transfer.RateBytes < 0 {
		return fmt.Errorf("transfer.rate_bytes must not be negative, got %d", c.Transfer.RateBytes)
	}
	return nil
}

// ApplyLogging configures pkg/log from c.
func (c *Config) ApplyLogging() error {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return log.SetFormat(c.Log.Format)
}
