package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func setenv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range []string{"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "AGENT_NAME",
		"AGENT_ENTRYPOINT", "AGENT_MAX_JOBS", "LK_HEALTH_ADDR", "LK_MODEL_PATH"} {
		t.Setenv(k, env[k])
	}
}

func TestLoad(t *testing.T) {
	is := is.New(t)

	setenv(t, map[string]string{
		"LIVEKIT_URL":        "wss://example.livekit.cloud",
		"LIVEKIT_API_KEY":    "key",
		"LIVEKIT_API_SECRET": "secret",
		"AGENT_ENTRYPOINT":   "dialogue",
		"AGENT_MAX_JOBS":     "2",
	})

	c, err := Load()
	is.NoErr(err)
	is.Equal(c.URL, "wss://example.livekit.cloud")
	is.Equal(c.Entrypoint, "dialogue")
	is.Equal(c.MaxJobs, 2)
	is.Equal(c.HealthAddr, DefaultHealthAddr) // default applied
	is.NoErr(c.Validate())
}

func TestLoad_BadMaxJobs(t *testing.T) {
	for _, v := range []string{"zero", "0", "-3"} {
		t.Run(v, func(t *testing.T) {
			setenv(t, map[string]string{"AGENT_MAX_JOBS": v})
			if _, err := Load(); err == nil {
				t.Errorf("expected error for AGENT_MAX_JOBS=%q", v)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{URL: "wss://x", APIKey: "k", APISecret: "s", MaxJobs: 1}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no url", mutate: func(c *Config) { c.URL = "" }, want: ErrMissingSetting},
		{name: "no key", mutate: func(c *Config) { c.APIKey = "" }, want: ErrMissingSetting},
		{name: "no secret", mutate: func(c *Config) { c.APISecret = "" }, want: ErrMissingSetting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := (Config{URL: "wss://x", APIKey: "k", APISecret: "s"}).Validate(); err == nil {
		t.Error("zero max jobs should be rejected")
	}
}

func TestLoadEnvFile(t *testing.T) {
	is := is.New(t)

	is.NoErr(LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))) // missing file is fine

	path := filepath.Join(t.TempDir(), ".env.local")
	is.NoErr(os.WriteFile(path, []byte("AGENT_NAME=from-file\nAGENT_ENTRYPOINT=dialogue\n"), 0o600))

	t.Setenv("AGENT_NAME", "")
	os.Unsetenv("AGENT_NAME")
	t.Setenv("AGENT_ENTRYPOINT", "presence")

	is.NoErr(LoadEnvFile(path))
	is.Equal(os.Getenv("AGENT_NAME"), "from-file")     // filled from file
	is.Equal(os.Getenv("AGENT_ENTRYPOINT"), "presence") // existing env wins
}
