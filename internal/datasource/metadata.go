// Package datasource creates, holds and manages named data sources. Each data
// source is described by Metadata and created by the Reader registered for its
// definition type.
package datasource

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Interface ids under which the two services are published.
const (
	ServiceID           = "datasource.Service"
	ManagementServiceID = "datasource.ManagementService"
)

// Definition selects the reader and carries its reader-specific settings.
type Definition struct {
	Type          string         `mapstructure:"type" yaml:"type" json:"type"`
	Configuration map[string]any `mapstructure:"configuration" yaml:"configuration,omitempty" json:"configuration,omitempty"`
}

// JNDIConfig controls publication of the data source into the naming context.
type JNDIConfig struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// UseReference binds the Metadata instead of the live object.
	UseReference bool `mapstructure:"use_reference" yaml:"use_reference,omitempty" json:"use_reference,omitempty"`
}

// Metadata describes one data source.
type Metadata struct {
	Name        string      `mapstructure:"name" yaml:"name" json:"name"`
	Description string      `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	JNDI        *JNDIConfig `mapstructure:"jndi" yaml:"jndi,omitempty" json:"jndi,omitempty"`
	Definition  Definition  `mapstructure:"definition" yaml:"definition" json:"definition"`

	// System data sources come from configuration and cannot be deleted
	// through the management service.
	System bool `mapstructure:"system" yaml:"system,omitempty" json:"system,omitempty"`
}

// Validate checks required fields.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	}
	if strings.TrimSpace(m.Definition.Type) == "" {
		return fmt.Errorf("%w: %s: definition.type is required", ErrInvalidMetadata, m.Name)
	}
	if m.JNDI != nil && strings.TrimSpace(m.JNDI.Name) == "" {
		return fmt.Errorf("%w: %s: jndi.name is empty", ErrInvalidMetadata, m.Name)
	}
	return nil
}

// Clone returns a deep-enough copy: the JNDI pointer and the top-level
// configuration map are not shared.
func (m Metadata) Clone() Metadata {
	out := m
	if m.JNDI != nil {
		j := *m.JNDI
		out.JNDI = &j
	}
	out.Definition.Configuration = maps.Clone(m.Definition.Configuration)
	return out
}

// DataSource is a created data source together with its description.
type DataSource struct {
	Metadata  Metadata  `json:"metadata"`
	Object    any       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
