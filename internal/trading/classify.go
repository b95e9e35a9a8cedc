package trading

import (
	"context"
	"net"
	"net/http"

	apperrors "stofina-realtime/internal/errors"
	"stofina-realtime/internal/resilience"
)

// Submission failure codes.
const (
	CodeSubmissionInProgress = "SUBMISSION_IN_PROGRESS"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeInvalidData          = "INVALID_DATA"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeForbidden            = "FORBIDDEN"
	CodeUnprocessable        = "UNPROCESSABLE"
	CodeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	CodeMarketClosed         = "MARKET_CLOSED"
	CodeInvalidSymbol        = "INVALID_SYMBOL"
	CodeNetworkError         = "NETWORK_ERROR"
	CodeUnexpectedError      = "UNEXPECTED_ERROR"
)

var bodyCodeMessages = map[string]string{
	CodeInsufficientBalance: "insufficient balance, check the account balance",
	CodeMarketClosed:        "market is closed, orders cannot be placed outside trading hours",
	CodeInvalidSymbol:       "invalid symbol, choose a different stock",
}

// ClassifyError maps a REST failure onto a user-facing submission error. Backend error
// codes in the response body take precedence over the HTTP status.
func ClassifyError(err error) *apperrors.SubmissionError {
	if err == nil {
		return nil
	}

	var subErr *apperrors.SubmissionError
	if apperrors.As(err, &subErr) {
		return subErr
	}

	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) {
		if msg, ok := bodyCodeMessages[apiErr.Code]; ok {
			return apperrors.NewSubmissionError(apiErr.Code, msg, err)
		}
		switch apiErr.Status {
		case http.StatusBadRequest:
			return apperrors.NewSubmissionError(CodeInvalidData, "invalid order data, check the form", err)
		case http.StatusUnauthorized:
			return apperrors.NewSubmissionError(CodeSessionExpired, "session expired, log in again", err)
		case http.StatusForbidden:
			return apperrors.NewSubmissionError(CodeForbidden, "not authorized for this operation", err)
		case http.StatusUnprocessableEntity:
			return apperrors.NewSubmissionError(CodeUnprocessable, "cannot process order: "+apiErr.Message, err)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		return apperrors.NewSubmissionError(CodeUnexpectedError, msg, err)
	}

	if isNetworkError(err) {
		return apperrors.NewSubmissionError(CodeNetworkError, "connection error, check the network connection", err)
	}
	return apperrors.NewSubmissionError(CodeUnexpectedError, err.Error(), err)
}

// isNetworkError reports transport failures, timeouts and an open circuit breaker.
func isNetworkError(err error) bool {
	if apperrors.Is(err, context.DeadlineExceeded) ||
		apperrors.Is(err, apperrors.ErrTimeout) ||
		apperrors.Is(err, apperrors.ErrConnectionFailed) ||
		apperrors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	var netErr net.Error
	return apperrors.As(err, &netErr)
}
