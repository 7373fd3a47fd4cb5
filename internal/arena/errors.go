package arena

import (
	"errors"
	"net/http"
)

// Error codes shared across the gateway and system hosts. The code travels
// on the wire in error bodies so callers can branch without parsing detail
// strings.
const (
	CodeValidation             = "validation"
	CodePromptRejected         = "prompt_rejected"
	CodeUnsupportedPrompt      = "unsupported_prompt"
	CodeNoEligibleSystems      = "no_eligible_systems"
	CodeUnreachable            = "unreachable"
	CodeTimeout                = "timeout"
	CodeBatchTimeout           = "batch_timeout"
	CodeGenerateFailed         = "generate_failed"
	CodeInsufficientListenTime = "insufficient_listen_time"
	CodeBusy                   = "busy"
	CodeNotFound               = "not_found"
	CodeInternal               = "internal_error"
)

// Error is the structured error every arena endpoint returns. Status is the
// HTTP status to serve it with; the wire body carries detail and code.
type Error struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Status int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Detail
}

// AsError unwraps err into an *Error, or wraps it as an internal error so
// handlers always have a status and code to serve.
func AsError(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return NewInternalError(err.Error())
}

// IsCode reports whether err carries the given arena error code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

func NewValidationError(detail string) *Error {
	return &Error{Code: CodeValidation, Detail: detail, Status: http.StatusBadRequest}
}

func NewPromptRejected(detail string) *Error {
	return &Error{Code: CodePromptRejected, Detail: detail, Status: http.StatusUnprocessableEntity}
}

func NewUnsupportedPrompt(detail string) *Error {
	return &Error{Code: CodeUnsupportedPrompt, Detail: detail, Status: http.StatusUnprocessableEntity}
}

func NewNoEligibleSystems(detail string) *Error {
	return &Error{Code: CodeNoEligibleSystems, Detail: detail, Status: http.StatusConflict}
}

func NewUnreachable(detail string) *Error {
	return &Error{Code: CodeUnreachable, Detail: detail, Status: http.StatusBadGateway}
}

func NewTimeout(detail string) *Error {
	return &Error{Code: CodeTimeout, Detail: detail, Status: http.StatusGatewayTimeout}
}

func NewBatchTimeout(detail string) *Error {
	return &Error{Code: CodeBatchTimeout, Detail: detail, Status: http.StatusGatewayTimeout}
}

func NewGenerateFailed(detail string) *Error {
	return &Error{Code: CodeGenerateFailed, Detail: detail, Status: http.StatusBadGateway}
}

func NewInsufficientListenTime(detail string) *Error {
	return &Error{Code: CodeInsufficientListenTime, Detail: detail, Status: http.StatusUnprocessableEntity}
}

func NewBusy(detail string) *Error {
	return &Error{Code: CodeBusy, Detail: detail, Status: http.StatusServiceUnavailable}
}

func NewNotFound(detail string) *Error {
	return &Error{Code: CodeNotFound, Detail: detail, Status: http.StatusNotFound}
}

func NewInternalError(detail string) *Error {
	return &Error{Code: CodeInternal, Detail: detail, Status: http.StatusInternalServerError}
}
