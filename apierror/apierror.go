// Package apierror defines the error taxonomy surfaced by the API.
// Every failure that crosses the method pipeline is one of the identifiers
// below; anything else is wrapped as an unexpected error before it reaches
// the HTTP layer.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// ID identifies an error kind. The identifier is part of the wire format:
// clients match on it, so values are stable.
type ID string

const (
	InvalidCredentials        ID = "invalid-credentials"
	InvalidOperation          ID = "invalid-operation"
	InvalidParametersFormat   ID = "invalid-parameters-format"
	InvalidRequestStructure   ID = "invalid-request-structure"
	Forbidden                 ID = "forbidden"
	UnknownResource           ID = "unknown-resource"
	UnknownReferencedResource ID = "unknown-referenced-resource"
	ItemAlreadyExists         ID = "item-already-exists"
	Gone                      ID = "gone"
	UnexpectedError           ID = "unexpected-error"
)

// httpStatus maps error identifiers to HTTP status codes.
var httpStatus = map[ID]int{
	InvalidCredentials:        http.StatusUnauthorized,
	InvalidOperation:          http.StatusBadRequest,
	InvalidParametersFormat:   http.StatusBadRequest,
	InvalidRequestStructure:   http.StatusBadRequest,
	Forbidden:                 http.StatusForbidden,
	UnknownResource:           http.StatusNotFound,
	UnknownReferencedResource: http.StatusBadRequest,
	ItemAlreadyExists:         http.StatusConflict,
	Gone:                      http.StatusGone,
	UnexpectedError:           http.StatusInternalServerError,
}

// APIError is the typed error carried through the method pipeline and
// serialized as {error: {id, message, data}} by the HTTP layer.
type APIError struct {
	ID         ID
	Message    string
	Data       map[string]interface{}
	InnerError error
}

func (e *APIError) Error() string {
	if e.InnerError != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID, e.Message, e.InnerError)
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Message)
}

func (e *APIError) Unwrap() error { return e.InnerError }

// HTTPStatus returns the status code for the error kind.
func (e *APIError) HTTPStatus() int {
	if code, ok := httpStatus[e.ID]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New creates an APIError with the given identifier and message.
func New(id ID, message string) *APIError {
	return &APIError{ID: id, Message: message}
}

// NewWithData creates an APIError carrying structured data for the client.
func NewWithData(id ID, message string, data map[string]interface{}) *APIError {
	return &APIError{ID: id, Message: message, Data: data}
}

// NewUnknownResource reports a missing target resource, e.g. an event id
// that resolves to nothing.
func NewUnknownResource(resourceType, id string) *APIError {
	return &APIError{
		ID:      UnknownResource,
		Message: fmt.Sprintf("Unknown %s %q", resourceType, id),
		Data:    map[string]interface{}{"type": resourceType, "id": id},
	}
}

// NewUnknownReferencedResource reports a reference to a missing resource
// inside an otherwise valid request (400, not 404).
func NewUnknownReferencedResource(resourceType string, ids []string) *APIError {
	return &APIError{
		ID:      UnknownReferencedResource,
		Message: fmt.Sprintf("Unknown referenced %s %v", resourceType, ids),
		Data:    map[string]interface{}{"type": resourceType, "ids": ids},
	}
}

// NewItemAlreadyExists reports a unique-key collision; conflictingKeys names
// the fields that collided.
func NewItemAlreadyExists(resourceType string, conflictingKeys map[string]interface{}) *APIError {
	return &APIError{
		ID:      ItemAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resourceType),
		Data:    conflictingKeys,
	}
}

// Wrap classifies err: APIErrors pass through unchanged, anything else
// becomes an unexpected error with err attached as the inner error.
func Wrap(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{ID: UnexpectedError, Message: "Unexpected error", InnerError: err}
}

// As extracts an APIError from err if there is one.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// HiddenPassword is substituted for password values before anything is
// logged or serialized into an error payload.
const HiddenPassword = "(hidden password)"

// RedactParams returns a shallow copy of params with password-like fields
// replaced by the HiddenPassword marker.
func RedactParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	redacted := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch k {
		case "password", "newPassword", "oldPassword", "currentPassword":
			redacted[k] = HiddenPassword
		default:
			redacted[k] = v
		}
	}
	return redacted
}
