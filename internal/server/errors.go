package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshmstewart/bestdayministries-sub013/internal/authorization"
	checkoutdomain "github.com/joshmstewart/bestdayministries-sub013/internal/checkout/domain"
	ledgerdomain "github.com/joshmstewart/bestdayministries-sub013/internal/ledger/domain"
	processordomain "github.com/joshmstewart/bestdayministries-sub013/internal/processor/domain"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"gorm.io/gorm"
)

const checkoutRetryMessage = "We couldn't start your checkout. Please try again in a moment."

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var checkoutErr *checkoutdomain.ValidationError
	if errors.As(err, &checkoutErr) && checkoutErr != nil {
		fields := make([]ValidationError, 0, len(checkoutErr.Errors))
		for _, fe := range checkoutErr.Errors {
			fields = append(fields, ValidationError{Field: fe.Field, Code: fe.Code, Message: fe.Message})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  fields,
		}
	}

	if field, code, ok := requestFieldError(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: field, Code: code, Message: validationErrorMessage(code)},
			},
		}
	}

	switch {
	case errors.Is(err, checkoutdomain.ErrCheckoutUnavailable):
		// Processor details stay in the logs.
		return http.StatusBadRequest, errorPayload{
			Type:    "checkout_unavailable",
			Message: checkoutRetryMessage,
		}
	case errors.Is(err, authorization.ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, processordomain.ErrModeNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if errors.Is(err, ledgerdomain.ErrIdentityConstraint) {
		return payload.Type, "ledger_identity_constraint"
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// requestFieldError maps domain sentinels that describe a bad request field.
func requestFieldError(err error) (string, string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "request", "invalid_request", true
	case errors.Is(err, ledgerdomain.ErrInvalidMode):
		return "mode", "invalid_stripe_mode", true
	case errors.Is(err, ledgerdomain.ErrInvalidKind):
		return "ledger_type", "invalid_ledger_kind", true
	case errors.Is(err, ledgerdomain.ErrInvalidFrequency):
		return "frequency", "invalid_frequency", true
	case errors.Is(err, reconciliationdomain.ErrInvalidResume), errors.Is(err, recoverydomain.ErrInvalidResume):
		return "resume_job_id", "invalid_resume_job", true
	case errors.Is(err, reconciliationdomain.ErrModeMismatch), errors.Is(err, recoverydomain.ErrModeMismatch):
		return "mode", "resume_job_mode_mismatch", true
	case errors.Is(err, recoverydomain.ErrCandidateInvalid):
		return "donations", "invalid_candidate", true
	default:
		return "", "", false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, reconciliationdomain.ErrResumeNotFound),
		errors.Is(err, recoverydomain.ErrResumeNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_stripe_mode":
		return "mode must be test or live"
	case "resume_job_mode_mismatch":
		return "mode does not match the resumed job"
	case "invalid_resume_job":
		return "resume_job_id is not a resumable job"
	default:
		return "invalid value"
	}
}
