// Package config loads worker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvFile is loaded before the environment is read. It is optional.
const EnvFile = ".env.local"

const (
	DefaultMaxJobs    = 4
	DefaultHealthAddr = ":8081"
)

var ErrMissingSetting = errors.New("missing required setting")

// Config holds the worker settings. CLI flags override the values read by Load.
type Config struct {
	URL        string // LIVEKIT_URL
	APIKey     string // LIVEKIT_API_KEY
	APISecret  string // LIVEKIT_API_SECRET
	AgentName  string // AGENT_NAME
	Entrypoint string // AGENT_ENTRYPOINT
	MaxJobs    int    // AGENT_MAX_JOBS
	HealthAddr string // LK_HEALTH_ADDR
	ModelPath  string // LK_MODEL_PATH
}

// LoadEnvFile reads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the settings from the environment, applying defaults.
func Load() (Config, error) {
	c := Config{
		URL:        os.Getenv("LIVEKIT_URL"),
		APIKey:     os.Getenv("LIVEKIT_API_KEY"),
		APISecret:  os.Getenv("LIVEKIT_API_SECRET"),
		AgentName:  os.Getenv("AGENT_NAME"),
		Entrypoint: os.Getenv("AGENT_ENTRYPOINT"),
		MaxJobs:    DefaultMaxJobs,
		HealthAddr: DefaultHealthAddr,
		ModelPath:  os.Getenv("LK_MODEL_PATH"),
	}
	if v := os.Getenv("LK_HEALTH_ADDR"); v != "" {
		c.HealthAddr = v
	}
	if v := os.Getenv("AGENT_MAX_JOBS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("AGENT_MAX_JOBS must be a positive integer, got %q", v)
		}
		c.MaxJobs = n
	}
	return c, nil
}

// Validate checks the settings needed to reach the LiveKit server.
func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("%w: LIVEKIT_URL", ErrMissingSetting)
	case c.APIKey == "":
		return fmt.Errorf("%w: LIVEKIT_API_KEY", ErrMissingSetting)
	case c.APISecret == "":
		return fmt.Errorf("%w: LIVEKIT_API_SECRET", ErrMissingSetting)
	case c.MaxJobs < 1:
		return fmt.Errorf("max jobs must be at least 1, got %d", c.MaxJobs)
	}
	return nil
}
