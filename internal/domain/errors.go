package domain

import (
	"errors"
	"strconv"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "upgrade", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable).
// Field carries the dotted path into the YAML tree (e.g. "market.fundamental_price").
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SimulationError tags a failure with the step and operation it occurred in,
// so a crashed run can be located in the logs without a stack trace.
type SimulationError struct {
	Step int    // Simulation step at the time of failure
	Op   string // Operation that failed (e.g., "submit", "settle", "persist")
	Err  error  // Underlying error
}

func (e *SimulationError) Error() string {
	return "step " + strconv.Itoa(e.Step) + " " + e.Op + ": " + e.Err.Error()
}

func (e *SimulationError) IsRetriable() bool {
	return false
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

var (
	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrUnknownMode is returned when the agent activation mode is not one of
	// the supported values. Not retriable.
	ErrUnknownMode = errors.New("unknown activation mode")
)
