package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, "localhost:19998", cfg.Server.Addr)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 10000, cfg.Journal.Retain)
	require.False(t, cfg.Tracing.Enabled)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "/metrics", cfg.Metrics.Path)
	require.NoError(t, Validate(cfg))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing addr", mutate: func(c *Config) { c.Server.Addr = " " }, wantErr: "server.addr"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "log.level"},
		{name: "negative min providers", mutate: func(c *Config) { c.Host.MinProviders = -1 }, wantErr: "min_providers"},
		{name: "empty required provider", mutate: func(c *Config) { c.Host.RequiredProviders = []string{""} }, wantErr: "required_providers[0]"},
		{name: "negative timeout", mutate: func(c *Config) { c.Host.ReadinessTimeout = -time.Second }, wantErr: "readiness_timeout"},
		{name: "negative retain", mutate: func(c *Config) { c.Journal.Retain = -5 }, wantErr: "journal.retain"},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "zipkin" }, wantErr: "tracing.exporter"},
		{name: "bad sample rate", mutate: func(c *Config) { c.Tracing.SampleRate = 2 }, wantErr: "sample_rate"},
		{name: "file exporter without path", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.FilePath = ""
		}, wantErr: "file_path"},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, wantErr: "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestHostConfig_Policy(t *testing.T) {
	h := HostConfig{RequiredProviders: []string{"rdbms"}, MinProviders: 2}
	p := h.Policy()
	require.Equal(t, []string{"rdbms"}, p.RequiredProviders)
	require.Equal(t, 2, p.MinProviders)
}

func TestDefaultConfigTemplate_IsValidYAML(t *testing.T) {
	var out map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(DefaultConfigTemplate()), &out))
	require.Contains(t, out, "server")
	require.Contains(t, out, DataSourcesKey)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))
}

// === Unit Tests: Provider ===

func TestLoadProvider_TemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	p, err := LoadProvider(path)
	require.NoError(t, err)
	require.Equal(t, path, p.Source())
	require.False(t, p.LoadedAt().IsZero())

	cfg, err := p.Config()
	require.NoError(t, err)
	require.Equal(t, "localhost:19998", cfg.Server.Addr)
	require.NoError(t, Validate(cfg))

	var entries []struct {
		Name       string `mapstructure:"name"`
		Definition struct {
			Type string `mapstructure:"type"`
		} `mapstructure:"definition"`
	}
	require.NoError(t, p.ConfigurationObject(DataSourcesKey, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "local", entries[0].Name)
	require.Equal(t, "rdbms", entries[0].Definition.Type)
}

func TestLoadProvider_MissingFile(t *testing.T) {
	_, err := LoadProvider(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestProvider_Config_ParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host:\n  readiness_timeout: 45s\n  min_providers: 1\n"), 0o600))

	p, err := LoadProvider(path)
	require.NoError(t, err)
	cfg, err := p.Config()
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Host.ReadinessTimeout)
	require.Equal(t, 1, cfg.Host.MinProviders)
	require.Equal(t, "localhost:19998", cfg.Server.Addr, "unset keys keep their defaults")
}

func TestStaticProvider_MissingNamespace(t *testing.T) {
	p := NewStaticProvider(map[string]any{"other": 1})

	var out []any
	err := p.ConfigurationObject(DataSourcesKey, &out)
	require.ErrorIs(t, err, ErrNamespaceNotFound)
	require.Equal(t, "static", p.Source())
}

func TestStaticProvider_Decodes(t *testing.T) {
	p := NewStaticProvider(map[string]any{
		"pool": map[string]any{"size": 4, "name": "main"},
	})

	var out struct {
		Size int    `mapstructure:"size"`
		Name string `mapstructure:"name"`
	}
	require.NoError(t, p.ConfigurationObject("pool", &out))
	require.Equal(t, 4, out.Size)
	require.Equal(t, "main", out.Name)
}
