package service

import "errors"

// Kind is the closed set of string-coded error kinds surfaced to callers.
// Raw transport errors never leave the service layer.
type Kind string

const (
	KindPendingUserAction       Kind = "PENDING_USER_ACTION"
	KindSessionExpired          Kind = "SESSION_EXPIRED"
	KindInsufficientPermissions Kind = "INSUFFICIENT_PERMISSIONS"
	KindProviderError           Kind = "PROVIDER_ERROR"
	KindUploadFailed            Kind = "UPLOAD_FAILED"
	KindValidationError         Kind = "VALIDATION_ERROR"
)

type DomainError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *DomainError) Unwrap() error { return e.Err }

func NewError(kind Kind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the domain kind from err, defaulting to PROVIDER_ERROR
// so an unclassified upstream failure is always terminal.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindProviderError
}

// Recoverable reports whether err should keep the session poller alive.
// Only "the user has not finished selecting" is recoverable; everything
// else halts automatic retry.
func Recoverable(err error) bool {
	return KindOf(err) == KindPendingUserAction
}
