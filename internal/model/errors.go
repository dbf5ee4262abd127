package model

import "errors"

// ValidationError marks a malformed RawPost or request payload. Never
// retried; surfaced to the caller per item.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// OracleError marks a failure of the external scoring oracle: unavailable,
// timed out, or an invalid score vector. Transient oracle errors are retried
// with bounded backoff by the orchestrator.
type OracleError struct {
	Reason     string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *OracleError) Error() string {
	msg := "oracle: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OracleError) Unwrap() error { return e.Err }

// PersistenceError marks a storage failure. Transient variants (connection
// loss, busy database) are retried by the orchestrator.
type PersistenceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *PersistenceError) Error() string {
	msg := "persistence: " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConfigError marks invalid threshold or connection configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsOracle reports whether err is (or wraps) an OracleError.
func IsOracle(err error) bool {
	var oe *OracleError
	return errors.As(err, &oe)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
