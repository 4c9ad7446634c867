package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/ecsync/internal/core/observability/log"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
)

// Config describes both binaries. Unset keys keep their defaults.
type Config struct {
	Server     Server     `json:"server" yaml:"server"`
	Simulation Simulation `json:"simulation" yaml:"simulation"`
	Client     Client     `json:"client" yaml:"client"`
	Log        Log        `json:"log" yaml:"log"`
}

type Server struct {
	Addr string `json:"addr" yaml:"addr"`
	Path string `json:"path" yaml:"path"`
	// TickRate is the number of simulation ticks per second.
	TickRate int `json:"tickRate" yaml:"tickRate"`
	// PatchRate is the number of patches broadcast per second.
	PatchRate  int    `json:"patchRate" yaml:"patchRate"`
	MaxClients int    `json:"maxClients" yaml:"maxClients"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
}

type Simulation struct {
	Entities        int     `json:"entities" yaml:"entities"`
	Width           float64 `json:"width" yaml:"width"`
	Height          float64 `json:"height" yaml:"height"`
	MinRadius       float64 `json:"minRadius" yaml:"minRadius"`
	MaxRadius       float64 `json:"maxRadius" yaml:"maxRadius"`
	SpeedMultiplier float64 `json:"speedMultiplier" yaml:"speedMultiplier"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

type Client struct {
	URL   string `json:"url" yaml:"url"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// ReportEvery logs a summary every n decoded patches; 0 disables it.
	ReportEvery int `json:"reportEvery" yaml:"reportEvery"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:       "127.0.0.1:2567",
			Path:       "/ws",
			TickRate:   60,
			PatchRate:  20,
			MaxClients: 64,
		},
		Simulation: Simulation{
			Entities:        50,
			Width:           800,
			Height:          600,
			MinRadius:       10,
			MaxRadius:       60,
			SpeedMultiplier: 0.001,
			Seed:            1,
		},
		Client: Client{
			URL:         "ws://127.0.0.1:2567/ws",
			ReportEvery: 20,
		},
		Log: Log{Level: "info"},
	}
}

// LoadYAML reads a YAML document on top of the defaults.
func LoadYAML(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadJSON reads a JSON document on top of the defaults.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile picks the decoder from the file extension. An empty path
// returns the defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	case ".json":
		return LoadJSON(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	if c.Server.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("server.tickRate must be positive, got %d", c.Server.TickRate))
	}
	if c.Server.PatchRate <= 0 || c.Server.PatchRate > c.Server.TickRate {
		errs = append(errs, fmt.Errorf("server.patchRate must be in (0, tickRate], got %d", c.Server.PatchRate))
	}
	if c.Simulation.Entities < 0 {
		errs = append(errs, fmt.Errorf("simulation.entities must not be negative, got %d", c.Simulation.Entities))
	}
	if c.Simulation.Width <= 0 || c.Simulation.Height <= 0 {
		errs = append(errs, fmt.Errorf("simulation canvas must be positive, got %gx%g", c.Simulation.Width, c.Simulation.Height))
	}
	if c.Simulation.MinRadius <= 0 || c.Simulation.MaxRadius < c.Simulation.MinRadius {
		errs = append(errs, fmt.Errorf("simulation radius range [%g, %g] is invalid", c.Simulation.MinRadius, c.Simulation.MaxRadius))
	}
	if c.Simulation.SpeedMultiplier < 0 {
		errs = append(errs, fmt.Errorf("simulation.speedMultiplier must not be negative, got %g", c.Simulation.SpeedMultiplier))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LogLevel is the parsed log level, info when unparsable.
func (c *Config) LogLevel() log.Level {
	l, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.LevelInfo
	}
	return l
}
