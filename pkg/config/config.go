// Package config holds the agent's settings. Values come from the defaults,
// then from the YAML file named by LSS_CONFIG, then from LSS_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoTracee/pkg/protocol"
)

// Announce modes.
const (
	AnnounceSignal = "signal"
	AnnounceNone   = "none"
)

// Config stores the agent configuration
type Config struct {
	// CommandFD carries tracer commands to the tracee
	CommandFD int `yaml:"command_fd"`
	// EventFD carries tracee events to the tracer
	EventFD int `yaml:"event_fd"`
	// GLReadFD carries GL results back to the tracee
	GLReadFD int `yaml:"gl_read_fd"`
	// GLWriteFD carries batched GL commands to the tracer
	GLWriteFD int `yaml:"gl_write_fd"`

	// GLBufferSize is the capacity of the GL batching buffer in bytes
	GLBufferSize int `yaml:"gl_buffer_size"`

	ScreenWidth  int `yaml:"screen_width"`
	ScreenHeight int `yaml:"screen_height"`

	// Announce selects how a pause is made visible to the tracer:
	// "signal" stops the thread with SIGSTOP, "none" does nothing
	Announce string `yaml:"announce"`

	// LogLevel is one of debug, info, warn or error
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		CommandFD:    protocol.CommandFD,
		EventFD:      protocol.EventFD,
		GLReadFD:     protocol.GLReadFD,
		GLWriteFD:    protocol.GLWriteFD,
		GLBufferSize: 4 * 1024 * 1024,
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Announce:     AnnounceSignal,
		LogLevel:     "warn",
	}
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Load builds the configuration from defaults, the file named by LSS_CONFIG
// and LSS_* environment overrides, and validates the result.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if path := getenv("LSS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"LSS_COMMAND_FD", &cfg.CommandFD},
		{"LSS_EVENT_FD", &cfg.EventFD},
		{"LSS_GL_READ_FD", &cfg.GLReadFD},
		{"LSS_GL_WRITE_FD", &cfg.GLWriteFD},
		{"LSS_GL_BUFFER_SIZE", &cfg.GLBufferSize},
		{"LSS_SCREEN_WIDTH", &cfg.ScreenWidth},
		{"LSS_SCREEN_HEIGHT", &cfg.ScreenHeight},
	}
	for _, v := range ints {
		s := strings.TrimSpace(getenv(v.name))
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = n
	}

	if announce := getenv("LSS_ANNOUNCE"); announce != "" {
		cfg.Announce = strings.ToLower(strings.TrimSpace(announce))
	}
	if level := getenv("LSS_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}
	return nil
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	fds := map[int]string{}
	for _, fd := range []struct {
		name  string
		value int
	}{
		{"command_fd", c.CommandFD},
		{"event_fd", c.EventFD},
		{"gl_read_fd", c.GLReadFD},
		{"gl_write_fd", c.GLWriteFD},
	} {
		if fd.value < 3 {
			return fmt.Errorf("%w: %s %d collides with the standard descriptors", ErrInvalid, fd.name, fd.value)
		}
		if other, ok := fds[fd.value]; ok {
			return fmt.Errorf("%w: %s and %s share descriptor %d", ErrInvalid, other, fd.name, fd.value)
		}
		fds[fd.value] = fd.name
	}

	if c.GLBufferSize <= 0 {
		return fmt.Errorf("%w: gl_buffer_size must be positive", ErrInvalid)
	}
	// The screen size lands in Xlib's int fields.
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 || c.ScreenWidth > math.MaxInt32 || c.ScreenHeight > math.MaxInt32 {
		return fmt.Errorf("%w: screen size %dx%d", ErrInvalid, c.ScreenWidth, c.ScreenHeight)
	}
	switch c.Announce {
	case AnnounceSignal, AnnounceNone:
	default:
		return fmt.Errorf("%w: announce mode %q", ErrInvalid, c.Announce)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns LogLevel as a slog level
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}
