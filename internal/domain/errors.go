package domain

import (
	"errors"
	"strings"
)

// Kind is the closed set of error kinds the core reasons about. Collaborator
// errors are translated into one of these once, at the port boundary.
type Kind string

const (
	KindCredentialRejected Kind = "credential_rejected"
	KindNetworkUnreachable Kind = "network_unreachable"
	KindPermissionDenied   Kind = "permission_denied"
	KindValidationFailed   Kind = "validation_failed"
	KindUnknown            Kind = "unknown"
)

// Validation codes.
const (
	CodeMissingCityOrCountry = "missing_city_or_country"
	CodeUnsupportedCountry   = "unsupported_country"
	CodeUnsupportedRadius    = "unsupported_radius"
	CodeInvalidField         = "invalid_field"
)

// Error is the structured error carried across the core.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields lists the input fields a validation failure applies to.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain that has one.
func CodeOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Code != "" {
			return e.Code
		}
		err = e.Err
	}
	return ""
}

// IsRecoverable reports whether err is environmental: the caller falls back to
// a degraded path and shows a dismissible message.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindNetworkUnreachable, KindPermissionDenied:
		return true
	default:
		return false
	}
}

// Wrap attaches kind to err unless err already carries a kind.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// ValidationFailed builds a validation_failed error over fields.
func ValidationFailed(code, message string, fields ...string) *Error {
	return &Error{Kind: KindValidationFailed, Code: code, Message: message, Fields: fields}
}

// FieldSet renders Fields as "a,b".
func (e *Error) FieldSet() string {
	if e == nil {
		return ""
	}
	return strings.Join(e.Fields, ",")
}
