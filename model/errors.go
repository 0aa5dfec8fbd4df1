package model

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed or incomplete configuration. It is
// never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Msg
	}
	if e.Msg == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ChallengeFailure is the reason one hostname's challenge did not validate.
type ChallengeFailure struct {
	HostName string
	Reason   string
}

// ChallengeValidationError reports challenges the CA rejected.
type ChallengeValidationError struct {
	Failures []ChallengeFailure
}

func (e *ChallengeValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.HostName, f.Reason))
	}
	return fmt.Sprintf("%d challenge(s) failed validation: %s",
		len(e.Failures), strings.Join(parts, "; "))
}

// CredentialAttempt records one path tried while resolving credentials.
type CredentialAttempt struct {
	Method string
	Err    error
}

// CredentialResolutionError reports that every credential path for a
// resource was exhausted.
type CredentialResolutionError struct {
	Resource string
	Attempts []CredentialAttempt
}

func (e *CredentialResolutionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s (%v)", a.Method, a.Err))
		} else {
			parts = append(parts, a.Method)
		}
	}
	return fmt.Sprintf("no usable credentials for %s, tried: %s",
		e.Resource, strings.Join(parts, ", "))
}

// TargetUpdateError reports that a target resource could not apply a
// certificate.
type TargetUpdateError struct {
	Target string
	Msg    string
	Err    error
}

func (e *TargetUpdateError) Error() string {
	msg := fmt.Sprintf("update %s", e.Target)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TargetUpdateError) Unwrap() error {
	return e.Err
}

// RenewalError wraps any failure of a renewal pass with the hostnames of the
// configuration it belongs to.
type RenewalError struct {
	HostNames []string
	Err       error
}

func (e *RenewalError) Error() string {
	return fmt.Sprintf("renew [%s]: %v", strings.Join(e.HostNames, ", "), e.Err)
}

func (e *RenewalError) Unwrap() error {
	return e.Err
}
