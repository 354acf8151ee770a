package domain

import (
	"errors"
	"strings"
)

// ErrCheckoutUnavailable is returned for any processor-side failure. Callers
// see a generic retry message; details stay in logs.
var ErrCheckoutUnavailable = errors.New("checkout_unavailable")

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError lists every rule the request broke.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation error"
	}
	fields := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		fields = append(fields, fe.Field+":"+fe.Code)
	}
	return "validation error: " + strings.Join(fields, ", ")
}

func (e *ValidationError) Add(field, code, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Errors) == 0
}
