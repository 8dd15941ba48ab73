package app

import "fmt"

// DomainError carries an HTTP status and a stable machine-readable code
// alongside the human message. Handlers map any other error to a generic
// 500, so service methods return DomainError for every expected failure
// (bad status transition, quota exceeded, unknown client, and so on).
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
