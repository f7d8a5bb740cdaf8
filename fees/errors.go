/*
errors.go - Error types for fee configuration and calculation

PURPOSE:
  The calculators never default silently. A component that cannot produce a
  fee for the given inputs fails with a typed error instead of returning 0.
  Zero is only returned for the documented cases (no gain, no spread,
  optional subscription/management fee with nothing configured).

SEE ALSO:
  - component.go: Construction-time validation
  - calculators.go: Calculation-time validation
*/
package fees

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is the sentinel for every configuration problem.
	ErrInvalidConfig = errors.New("invalid fee configuration")

	// ErrMissingInput is returned when a calculator lacks a required fact
	// (share count, entry price, ...).
	ErrMissingInput = errors.New("missing calculation input")

	// ErrUnsupportedModifier is returned when a performance modifier that has
	// no formula (catch-up, high-water mark) is switched on.
	ErrUnsupportedModifier = errors.New("performance modifier has no formula")
)

// ConfigError describes why a fee component or request was rejected.
type ConfigError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("invalid fee configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s fee configuration: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// MissingInputError names the calculator input that was not supplied.
type MissingInputError struct {
	Kind  Kind
	Field string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("%s fee: missing %s", e.Kind, e.Field)
}

func (e *MissingInputError) Unwrap() error { return ErrMissingInput }

func configErr(kind Kind, field, format string, args ...any) error {
	return &ConfigError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a configuration or input problem,
// i.e. something the caller has to fix before retrying.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingInput) ||
		errors.Is(err, ErrUnsupportedModifier)
}
