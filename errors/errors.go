package errors

import (
	"errors"
	"fmt"
)

// Error categories shared by every external-call boundary. Adapters wrap the
// underlying failure with one of these so callers can branch with errors.Is.

var (
	// ErrNotConfigured indicates an optional collaborator has no endpoint/model configured
	ErrNotConfigured = errors.New("not configured")

	// ErrTransient indicates a network timeout or transport error on an external call
	ErrTransient = errors.New("transient failure")

	// ErrContractViolation indicates an external service answered outside its allowed set
	ErrContractViolation = errors.New("contract violation")

	// ErrBackendIncompatible indicates the search backend rejected a request shape
	ErrBackendIncompatible = errors.New("backend incompatible")

	// ErrBackendUnavailable indicates the search backend could not serve the request at all
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidInput indicates invalid caller input
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError wraps an error with context message
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapErrorf wraps an error with formatted context message
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Categorize attaches a category sentinel to err while keeping the original
// error reachable through errors.Is / errors.As.
func Categorize(category error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", category, err)
}

// IsNotConfigured checks if error is a not configured error
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsInvalidInput checks if error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsBackendUnavailable checks if error is a backend unavailable error
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsContractViolation checks if error is a contract violation by an external service
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsBackendIncompatible checks if error is a backend incompatibility error
func IsBackendIncompatible(err error) bool {
	return errors.Is(err, ErrBackendIncompatible)
}
