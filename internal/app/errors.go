package app

import "fmt"

// DomainError is the wire shape of every non-2xx response: a stable code
// the portal frontend can branch on plus a human-readable message. Details
// carries structured context, e.g. the current document status on an
// INVALID_STATE rejection.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
