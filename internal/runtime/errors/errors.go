package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired      = sterrors.New("resflow: service is required")
	ErrHandlerRequired      = sterrors.New("resflow: handler is required")
	ErrConfigRequired       = sterrors.New("resflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("resflow: logger is required")
	ErrConnRequired         = sterrors.New("resflow: connection is required")
	ErrAlreadyServing       = sterrors.New("resflow: service is already serving")
	ErrNotServing           = sterrors.New("resflow: service is not serving")
	ErrInvalidPattern       = sterrors.New("resflow: invalid pattern")
	ErrDuplicatePattern     = sterrors.New("resflow: pattern already registered")
	ErrDuplicatePlaceholder = sterrors.New("resflow: placeholder name used twice in pattern")
	ErrInvalidGroup         = sterrors.New("resflow: invalid group template")
	ErrMountConflict        = sterrors.New("resflow: invalid mount")
	ErrAlreadyMounted       = sterrors.New("resflow: router already mounted")
	ErrInvalidEvent         = sterrors.New("resflow: invalid event name")
	ErrValueInGetHandler    = sterrors.New("resflow: value requested from within its own get handler")
	ErrValueTypeMismatch    = sterrors.New("resflow: value has unexpected type")
	ErrAlreadyReplied       = sterrors.New("resflow: response already sent")
)

// ConfigError reports a registration problem for a single pattern. Such errors
// are fatal to startup.
type ConfigError struct {
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Pattern == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %q", e.Err.Error(), e.Pattern)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err with the offending pattern. A detail string, when
// given, is appended to the cause.
func NewConfigError(pattern string, err error, detail string) error {
	if detail != "" {
		err = fmt.Errorf("%w (%s)", err, detail)
	}
	return &ConfigError{Pattern: pattern, Err: err}
}

// ConfigValidationError wraps a failed Config.Validate result.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "resflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
