package requirement

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known mandatory slot names.
const (
	SlotNamingContext = "naming-context-manager"
	SlotConfigSource  = "configuration-source"
)

// ErrUnsatisfiedDependency is the sentinel wrapped by UnsatisfiedError.
var ErrUnsatisfiedDependency = errors.New("unsatisfied dependency")

// UnsatisfiedError lists the requirements that were missing when readiness was
// attempted.
type UnsatisfiedError struct {
	Missing []string
}

func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrUnsatisfiedDependency, strings.Join(e.Missing, ", "))
}

func (e *UnsatisfiedError) Unwrap() error {
	return ErrUnsatisfiedDependency
}

// Slot holds one mandatory singleton dependency.
// A Slot is not synchronized; the coordinator guards all slots and the
// provider registry with a single lock so snapshots are never torn.
type Slot[T comparable] struct {
	name    string
	value   T
	present bool
}

// NewSlot creates an empty slot.
func NewSlot[T comparable](name string) *Slot[T] {
	return &Slot[T]{name: name}
}

// Name returns the slot name.
func (s *Slot[T]) Name() string { return s.name }

// Bind fills the slot, replacing any previous value.
// Returns whether a different value was replaced.
func (s *Slot[T]) Bind(v T) (replaced bool) {
	replaced = s.present && s.value != v
	s.value = v
	s.present = true
	return replaced
}

// Unbind empties the slot if it currently holds v. Unbinding a value that has
// already been replaced is a no-op, so a bind-then-unbind hand-over never
// leaves the slot empty. Returns whether the slot was cleared.
func (s *Slot[T]) Unbind(v T) bool {
	if !s.present || s.value != v {
		return false
	}
	var zero T
	s.value = zero
	s.present = false
	return true
}

// Get returns the slot value and whether it is filled.
func (s *Slot[T]) Get() (T, bool) {
	return s.value, s.present
}

// Filled reports whether the slot holds a value.
func (s *Slot[T]) Filled() bool { return s.present }

// Filler is the read side of a slot, used to check a set of slots of
// different types together.
type Filler interface {
	Name() string
	Filled() bool
}

// CheckFilled returns an *UnsatisfiedError naming every empty slot, or nil.
func CheckFilled(slots ...Filler) error {
	var missing []string
	for _, s := range slots {
		if !s.Filled() {
			missing = append(missing, s.Name())
		}
	}
	if len(missing) > 0 {
		return &UnsatisfiedError{Missing: missing}
	}
	return nil
}
