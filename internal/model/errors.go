package model

import (
	"errors"
	"net/http"
	"strings"
)

// registryUnavailableError signals that the model registry could not be reached.
type registryUnavailableError struct{ err error }

func (e registryUnavailableError) Error() string {
	if e.err == nil {
		return "registry unavailable"
	}
	return "registry unavailable: " + e.err.Error()
}
func (e registryUnavailableError) Unwrap() error   { return e.err }
func (e registryUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrRegistryUnavailable wraps a backend failure.
func ErrRegistryUnavailable(err error) error { return registryUnavailableError{err: err} }

// IsRegistryUnavailable reports whether err indicates an unreachable registry.
func IsRegistryUnavailable(err error) bool {
	var t registryUnavailableError
	return errors.As(err, &t)
}

// modelNotFoundError signals that a model name has no registered versions.
type modelNotFoundError struct{ name string }

func (e modelNotFoundError) Error() string   { return "model not found: " + e.name }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

func ErrModelNotFound(name string) error { return modelNotFoundError{name: name} }

// IsModelNotFound reports whether err indicates a model without versions.
func IsModelNotFound(err error) bool {
	var t modelNotFoundError
	return errors.As(err, &t)
}

// artifactFetchError covers I/O, network and timeout failures while fetching.
type artifactFetchError struct {
	source string
	err    error
}

func (e artifactFetchError) Error() string {
	return "artifact fetch failed for " + e.source + ": " + e.err.Error()
}
func (e artifactFetchError) Unwrap() error   { return e.err }
func (e artifactFetchError) StatusCode() int { return http.StatusBadGateway }

func ErrArtifactFetch(source string, err error) error {
	return artifactFetchError{source: source, err: err}
}

// IsArtifactFetch reports whether err is an artifact fetch failure.
func IsArtifactFetch(err error) bool {
	var t artifactFetchError
	return errors.As(err, &t)
}

// artifactCorruptError signals undecodable or tampered artifact bytes.
type artifactCorruptError struct {
	source string
	reason string
}

func (e artifactCorruptError) Error() string {
	return "artifact corrupt (" + e.source + "): " + e.reason
}
func (e artifactCorruptError) StatusCode() int { return http.StatusUnprocessableEntity }

func ErrArtifactCorrupt(source, reason string) error {
	return artifactCorruptError{source: source, reason: reason}
}

// IsArtifactCorrupt reports whether err is a deserialization failure.
func IsArtifactCorrupt(err error) bool {
	var t artifactCorruptError
	return errors.As(err, &t)
}

// incompatibleSchemaError lists artifact features the service cannot provide.
type incompatibleSchemaError struct{ features []string }

func (e incompatibleSchemaError) Error() string {
	if len(e.features) == 0 {
		return "incompatible schema: artifact declares no input features"
	}
	return "incompatible schema: unknown features " + strings.Join(e.features, ", ")
}
func (e incompatibleSchemaError) StatusCode() int { return http.StatusUnprocessableEntity }

func ErrIncompatibleSchema(features []string) error {
	return incompatibleSchemaError{features: append([]string(nil), features...)}
}

// IsIncompatibleSchema reports whether err is a feature contract mismatch.
func IsIncompatibleSchema(err error) bool {
	var t incompatibleSchemaError
	return errors.As(err, &t)
}

// validationError lists offending request fields with a reason per field.
type validationError struct {
	fields  []string
	reasons map[string]string
}

func (e validationError) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		parts = append(parts, f+": "+e.reasons[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
func (e validationError) StatusCode() int { return http.StatusBadRequest }

// Fields returns the offending field names in input order.
func (e validationError) Fields() []string { return append([]string(nil), e.fields...) }

// ErrValidation builds a validation error from ordered field names and reasons.
func ErrValidation(fields []string, reasons map[string]string) error {
	cp := make(map[string]string, len(reasons))
	for k, v := range reasons {
		cp[k] = v
	}
	return validationError{fields: append([]string(nil), fields...), reasons: cp}
}

// IsValidation reports whether err is a request validation error.
func IsValidation(err error) bool {
	var t validationError
	return errors.As(err, &t)
}

// ValidationFields returns the offending fields of a validation error, or nil.
func ValidationFields(err error) []string {
	var t validationError
	if errors.As(err, &t) {
		return t.Fields()
	}
	return nil
}

// serviceNotReadyError is returned while no model has ever been installed.
type serviceNotReadyError struct{}

func (serviceNotReadyError) Error() string   { return "service not ready: no model loaded" }
func (serviceNotReadyError) StatusCode() int { return http.StatusServiceUnavailable }

func ErrServiceNotReady() error { return serviceNotReadyError{} }

// IsServiceNotReady reports whether err indicates an uninitialized gateway.
func IsServiceNotReady(err error) bool {
	var t serviceNotReadyError
	return errors.As(err, &t)
}

// reloadInProgressError rejects a reload while another one runs.
type reloadInProgressError struct{}

func (reloadInProgressError) Error() string   { return "reload already in progress" }
func (reloadInProgressError) StatusCode() int { return http.StatusConflict }

func ErrReloadInProgress() error { return reloadInProgressError{} }

// IsReloadInProgress reports whether err is a rejected concurrent reload.
func IsReloadInProgress(err error) bool {
	var t reloadInProgressError
	return errors.As(err, &t)
}

// Kind names the taxonomy entry of err, for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsRegistryUnavailable(err):
		return "registry_unavailable"
	case IsModelNotFound(err):
		return "model_not_found"
	case IsArtifactFetch(err):
		return "artifact_fetch_error"
	case IsArtifactCorrupt(err):
		return "artifact_corrupt"
	case IsIncompatibleSchema(err):
		return "incompatible_schema"
	case IsValidation(err):
		return "validation_error"
	case IsServiceNotReady(err):
		return "service_not_ready"
	case IsReloadInProgress(err):
		return "reload_in_progress"
	default:
		return "internal"
	}
}
