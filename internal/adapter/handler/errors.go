package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockflow/internal/core/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was written.
const statusClientClosedRequest = 499

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidation, domain.KindConflict:
		return http.StatusBadRequest
	case domain.KindInvariant:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrShipmentAlreadyExists),
		errors.Is(err, domain.ErrTrackingNumberTaken),
		errors.Is(err, domain.ErrProductExists):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return codes.Aborted
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindConflict:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// isContextError reports a request that ended because its caller gave up or
// ran out of time rather than because the server failed.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// errorBody hides the text of unclassified errors from clients.
func errorBody(err error) ErrorResponse {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorResponse{Error: ErrorBody{Code: "REQUEST_CANCELED", Message: "request canceled"}}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse{Error: ErrorBody{Code: "REQUEST_TIMEOUT", Message: "request deadline exceeded"}}
	}
	if domain.KindOf(err) == domain.KindInternal {
		return ErrorResponse{Error: ErrorBody{Code: domain.CodeOf(err), Message: "internal error"}}
	}
	return ErrorResponse{Error: ErrorBody{Code: domain.CodeOf(err), Message: err.Error()}}
}

func grpcError(err error) error {
	body := errorBody(err).Error
	return status.Errorf(grpcCode(err), "%s: %s", body.Code, body.Message)
}
