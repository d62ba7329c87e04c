package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrConflict             ErrorCode = "CONFLICT"
	ErrBadRequest           ErrorCode = "BAD_REQUEST"
	ErrInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrInternalServer       ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrInvalidParticipants  ErrorCode = "INVALID_PARTICIPANTS"
	ErrInvalidAmount        ErrorCode = "INVALID_AMOUNT"
	ErrChannelNotActive     ErrorCode = "CHANNEL_NOT_ACTIVE"
	ErrInvalidParties       ErrorCode = "INVALID_PARTIES"
	ErrInsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	ErrSequenceConflict     ErrorCode = "SEQUENCE_CONFLICT"
	ErrAuthorizationMissing ErrorCode = "AUTHORIZATION_MISSING"
	ErrAuthorizationInvalid ErrorCode = "AUTHORIZATION_INVALID"
	ErrSettlementFailed     ErrorCode = "SETTLEMENT_FAILED"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	if details != nil {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Code extracts the ErrorCode carried by err, or ErrInternalServer for
// anything that is not an APIError.
func Code(err error) ErrorCode {
	if apiErr, ok := err.(APIError); ok {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrSequenceConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrInvalidParticipants, ErrInvalidAmount, ErrInvalidParties:
			return http.StatusBadRequest
		case ErrChannelNotActive, ErrInsufficientBalance:
			return http.StatusUnprocessableEntity
		case ErrAuthorizationMissing, ErrAuthorizationInvalid:
			return http.StatusForbidden
		case ErrSettlementFailed:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
