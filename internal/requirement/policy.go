package requirement

import (
	"fmt"
	"slices"
)

// Policy is the host's rule for "all required capabilities are present".
type Policy struct {
	// RequiredProviders lists provider type keys that must all be bound.
	RequiredProviders []string `mapstructure:"required_providers"`

	// MinProviders is the minimum number of bound providers, of any type.
	MinProviders int `mapstructure:"min_providers"`
}

// Validate checks the policy for nonsensical values.
func (p Policy) Validate() error {
	if p.MinProviders < 0 {
		return fmt.Errorf("min_providers must be >= 0, got %d", p.MinProviders)
	}
	for i, k := range p.RequiredProviders {
		if k == "" {
			return fmt.Errorf("required_providers[%d] is empty", i)
		}
	}
	return nil
}

// Status is the result of evaluating a Policy.
type Status struct {
	Satisfied bool
	Missing   []string
}

// Err returns an *UnsatisfiedError for an unsatisfied status, or nil.
func (s Status) Err() error {
	if s.Satisfied {
		return nil
	}
	return &UnsatisfiedError{Missing: slices.Clone(s.Missing)}
}

// Evaluate checks bound provider keys and mandatory slots against the policy.
// Missing entries are reported as slot names, "provider:<type>" and
// "providers>=N".
func (p Policy) Evaluate(providerKeys []string, slots ...Filler) Status {
	var missing []string
	for _, s := range slots {
		if !s.Filled() {
			missing = append(missing, s.Name())
		}
	}
	for _, want := range p.RequiredProviders {
		if !slices.Contains(providerKeys, want) {
			missing = append(missing, "provider:"+want)
		}
	}
	if len(providerKeys) < p.MinProviders {
		missing = append(missing, fmt.Sprintf("providers>=%d", p.MinProviders))
	}
	return Status{Satisfied: len(missing) == 0, Missing: missing}
}
