// Package errors provides structured error handling with i18n support.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound is returned when a collection, button, entity, or
	// relation target does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnauthorized is returned when the authorizer denies an operation.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInvalidEntity is returned when a form fails validation.
	CodeInvalidEntity Code = "INVALID_ENTITY"

	// CodeInvalidShape is returned when relation ids are not an enumerable.
	CodeInvalidShape Code = "INVALID_SHAPE"

	// CodeUnimplemented is returned for actions or CRUD types a family does
	// not handle.
	CodeUnimplemented Code = "UNIMPLEMENTED"

	// CodeInvalidOperation is returned when a button's CRUD type has no
	// authorization operation.
	CodeInvalidOperation Code = "INVALID_OPERATION"
)

// GRPCCode maps domain error codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeNotFound:
		return codes.NotFound
	case CodeUnauthorized:
		return codes.PermissionDenied
	case CodeInvalidEntity, CodeInvalidShape:
		return codes.InvalidArgument
	case CodeUnimplemented:
		return codes.Unimplemented
	case CodeInvalidOperation:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain error codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeInvalidEntity:
		return http.StatusUnprocessableEntity
	case CodeInvalidShape:
		return http.StatusBadRequest
	case CodeUnimplemented:
		return http.StatusNotImplemented
	case CodeInvalidOperation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
