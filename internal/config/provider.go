package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNamespaceNotFound is returned when a configuration namespace is absent.
var ErrNamespaceNotFound = errors.New("configuration namespace not found")

// Provider is the configuration source handed to the initializer.
type Provider interface {
	// ConfigurationObject decodes the namespace into out.
	ConfigurationObject(namespace string, out any) error
}

// ViperProvider serves configuration namespaces from a viper instance.
type ViperProvider struct {
	v        *viper.Viper
	source   string
	loadedAt time.Time
}

// NewViperProvider wraps an already-populated viper instance.
func NewViperProvider(v *viper.Viper) *ViperProvider {
	return &ViperProvider{v: v, source: v.ConfigFileUsed(), loadedAt: time.Now()}
}

// LoadProvider reads the YAML file at path into a fresh viper instance.
func LoadProvider(path string) (*ViperProvider, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return NewViperProvider(v), nil
}

// NewStaticProvider builds a provider from in-memory values.
func NewStaticProvider(values map[string]any) *ViperProvider {
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	return &ViperProvider{v: v, source: "static", loadedAt: time.Now()}
}

// ConfigurationObject implements Provider.
func (p *ViperProvider) ConfigurationObject(namespace string, out any) error {
	key := strings.ToLower(namespace)
	if !p.v.IsSet(key) {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}
	if err := p.v.UnmarshalKey(key, out); err != nil {
		return fmt.Errorf("decoding %s from %s: %w", namespace, p.source, err)
	}
	return nil
}

// Config decodes the daemon settings, layered over Defaults.
func (p *ViperProvider) Config() (Config, error) {
	cfg := Defaults()
	if err := p.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config from %s: %w", p.source, err)
	}
	return cfg, nil
}

// Source returns the file the provider was loaded from, or "static".
func (p *ViperProvider) Source() string {
	return p.source
}

// LoadedAt returns when the provider was created.
func (p *ViperProvider) LoadedAt() time.Time {
	return p.loadedAt
}
