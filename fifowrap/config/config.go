// Package config loads fifowrap's optional configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LogFormat is the format of the log lines written to stdout.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// Commands are the console commands the supervisor sends on its own.
type Commands struct {
	Stop    string `yaml:"stop"`
	SaveOff string `yaml:"save_off"`
	SaveOn  string `yaml:"save_on"`
}

// Config is the configuration file. Every field can also be set with a flag,
// and flags win.
type Config struct {
	// Journal is the path to a JSON journal file. Empty disables it.
	Journal string `yaml:"journal"`
	// JournalWait is how long to wait for another fifowrap to release the
	// journal. Zero fails right away.
	JournalWait time.Duration `yaml:"journal_wait"`
	// MetricsAddr is the address to serve Prometheus metrics on. Empty
	// disables it.
	MetricsAddr string `yaml:"metrics_addr"`
	// Watch reloads the relay whenever the FIFO is recreated.
	Watch     bool      `yaml:"watch"`
	LogFormat LogFormat `yaml:"log_format"`
	Commands  Commands  `yaml:"commands"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogFormat: LogText,
		Commands: Commands{
			Stop:    fifowrap.DefaultCommands.Stop,
			SaveOff: fifowrap.DefaultCommands.SaveOff,
			SaveOn:  fifowrap.DefaultCommands.SaveOn,
		},
	}
}

// Load reads the file at path on top of Default.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}

	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid config %q", path)
	}

	return cfg, nil
}

// Parse decodes a YAML document on top of Default. Unknown keys are errors.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "failed to decode yaml")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that can't work.
func (c Config) Validate() error {
	switch c.LogFormat {
	case LogText, LogJSON:
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}

	if c.JournalWait < 0 {
		return errors.New("journal wait must not be negative")
	}

	if c.Commands.Stop == "" {
		return errors.New("stop command must not be empty")
	}

	return nil
}

// SupervisorCommands converts the commands for the supervisor.
func (c Config) SupervisorCommands() fifowrap.Commands {
	return fifowrap.Commands{
		Stop:    c.Commands.Stop,
		SaveOff: c.Commands.SaveOff,
		SaveOn:  c.Commands.SaveOn,
	}
}
