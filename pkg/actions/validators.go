package actions

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ValidatorFunc checks a candidate slot value. A nil return accepts the
// value; rejection is signalled with a *ValidationError.
type ValidatorFunc func(value any) error

// NormalizerFunc canonicalizes a slot value before validation and storage.
type NormalizerFunc func(value any) (any, error)

// ValidatorRegistry stores slot validators by name.
type ValidatorRegistry struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFunc
	frozen     bool
}

// NewValidatorRegistry creates an empty validator registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{validators: map[string]ValidatorFunc{}}
}

// Register adds a validator. Panics after Freeze or on duplicates.
func (r *ValidatorRegistry) Register(name string, fn ValidatorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("validators: register %q: %v", name, ErrRegistryFrozen))
	}
	if _, exists := r.validators[name]; exists {
		panic(fmt.Sprintf("validators: duplicate registration of %q", name))
	}
	r.validators[name] = fn
}

// Freeze marks the registry read-only.
func (r *ValidatorRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether a validator is registered.
func (r *ValidatorRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.validators[name]
	return ok
}

// Validate runs the named validator against value. An unregistered name is
// a configuration bug caught at startup, so it is treated as acceptance here.
func (r *ValidatorRegistry) Validate(name string, value any) error {
	r.mu.RLock()
	fn, ok := r.validators[name]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return fn(value)
}

// Names returns all registered validator names, sorted.
func (r *ValidatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizerRegistry stores slot normalizers by name.
type NormalizerRegistry struct {
	mu          sync.RWMutex
	normalizers map[string]NormalizerFunc
	frozen      bool
}

// NewNormalizerRegistry creates an empty normalizer registry.
func NewNormalizerRegistry() *NormalizerRegistry {
	return &NormalizerRegistry{normalizers: map[string]NormalizerFunc{}}
}

// Register adds a normalizer. Panics after Freeze or on duplicates.
func (r *NormalizerRegistry) Register(name string, fn NormalizerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic(fmt.Sprintf("normalizers: register %q: %v", name, ErrRegistryFrozen))
	}
	if _, exists := r.normalizers[name]; exists {
		panic(fmt.Sprintf("normalizers: duplicate registration of %q", name))
	}
	r.normalizers[name] = fn
}

// Freeze marks the registry read-only.
func (r *NormalizerRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether a normalizer is registered.
func (r *NormalizerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.normalizers[name]
	return ok
}

// Normalize runs the named normalizer; an unregistered name passes the value
// through unchanged.
func (r *NormalizerRegistry) Normalize(name string, value any) (any, error) {
	r.mu.RLock()
	fn, ok := r.normalizers[name]
	r.mu.RUnlock()

	if !ok {
		return value, nil
	}
	return fn(value)
}

// NonEmpty is a validator accepting any non-blank string value.
func NonEmpty(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Reason: "value must not be empty"}
	}
	return nil
}

// TrimSpace is a normalizer collapsing surrounding whitespace on strings.
func TrimSpace(value any) (any, error) {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return value, nil
}
