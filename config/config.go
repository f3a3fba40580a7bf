// Package config holds all application configuration. Values are
// resolved from defaults, then an optional YAML file, then flags; the
// TCP port is a required positional argument.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port            int    `yaml:"-"`
	DocRoot         string `yaml:"doc_root"`
	Workers         int    `yaml:"workers"`
	QueueCapacity   int    `yaml:"queue_capacity"`
	MaxConns        int    `yaml:"max_conns"`
	MaxEvents       int    `yaml:"max_events"`
	ReadBufferSize  int    `yaml:"read_buffer_size"`
	WriteBufferSize int    `yaml:"write_buffer_size"`
	TimeslotSeconds int    `yaml:"timeslot_seconds"`
	MetricsAddr     string `yaml:"metrics_addr"`
	Env             string `yaml:"env"`

	// File is the YAML source, when one was given; the watcher re-reads
	// it on change.
	File string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DocRoot:         "./resources",
		Workers:         8,
		QueueCapacity:   10000,
		MaxConns:        65536,
		MaxEvents:       10000,
		ReadBufferSize:  2048,
		WriteBufferSize: 1024,
		TimeslotSeconds: 5,
		Env:             "development",
	}
}

// Timeslot is the expiry tick period.
func (c *Config) Timeslot() time.Duration {
	return time.Duration(c.TimeslotSeconds) * time.Second
}

// IdleTimeout is the idle window before a connection is reaped.
func (c *Config) IdleTimeout() time.Duration {
	return 3 * c.Timeslot()
}

// New loads configuration from the process arguments.
func New() (*Config, error) {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	return Parse(fs, os.Args[1:])
}

// Parse resolves configuration from the given flag set and arguments.
// Usage: [flags] <port>.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	file := fs.String("config", "", "YAML configuration file")
	docRoot := fs.String("doc-root", cfg.DocRoot, "document root directory")
	workers := fs.Int("workers", cfg.Workers, "worker threads")
	queueCap := fs.Int("queue-capacity", cfg.QueueCapacity, "worker queue capacity")
	maxConns := fs.Int("max-conns", cfg.MaxConns, "maximum simultaneous connections")
	readBuf := fs.Int("read-buffer", cfg.ReadBufferSize, "per-connection read buffer size")
	writeBuf := fs.Int("write-buffer", cfg.WriteBufferSize, "per-connection write buffer size")
	timeslot := fs.Int("timeslot", cfg.TimeslotSeconds, "expiry tick period (seconds)")
	metricsAddr := fs.String("metrics-addr", "", "metrics listen address (empty disables)")
	env := fs.String("env", cfg.Env, "environment (development/production)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *file != "" {
		if err := cfg.LoadFile(*file); err != nil {
			return nil, err
		}
		cfg.File = *file
	}

	// Flags given explicitly win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "doc-root":
			cfg.DocRoot = *docRoot
		case "workers":
			cfg.Workers = *workers
		case "queue-capacity":
			cfg.QueueCapacity = *queueCap
		case "max-conns":
			cfg.MaxConns = *maxConns
		case "read-buffer":
			cfg.ReadBufferSize = *readBuf
		case "write-buffer":
			cfg.WriteBufferSize = *writeBuf
		case "timeslot":
			cfg.TimeslotSeconds = *timeslot
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "env":
			cfg.Env = *env
		}
	})

	if fs.NArg() < 1 {
		return nil, errors.Errorf("usage: %s [flags] <port>", fs.Name())
	}
	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", fs.Arg(0))
	}
	cfg.Port = port

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto the configuration.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "parse config")
	}
	return nil
}

func (c *Config) validate() error {
	if c.DocRoot == "" {
		return errors.New("document root must not be empty")
	}
	if c.Workers <= 0 || c.QueueCapacity <= 0 || c.MaxConns <= 0 {
		return errors.New("workers, queue capacity and max conns must be positive")
	}
	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 {
		return errors.New("buffer sizes must be positive")
	}
	if c.TimeslotSeconds <= 0 {
		return errors.New("timeslot must be positive")
	}
	return nil
}
