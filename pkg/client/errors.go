package client

import (
	"errors"
	"net/http"
	"strings"
)

// Common errors returned by the client.
var (
	// ErrNoCache is returned by New when no schema cache is configured.
	ErrNoCache = errors.New("schema cache is required")

	// ErrTooManyRedirects is returned when a fetch exceeds MaxRedirects hops.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyTooLarge is returned when a decoded response exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("schema response too large")
)

// FetchError describes a schema fetch that produced no usable content.
// Its message is the most specific description available: the response
// body, then the HTTP status text, then the underlying error.
type FetchError struct {
	URI        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// newFetchError builds a FetchError, choosing the message by preference:
// response body > status description > raw error text.
func newFetchError(uri string, statusCode int, body []byte, err error) *FetchError {
	fe := &FetchError{
		URI:        uri,
		StatusCode: statusCode,
		ErrorClass: classify(statusCode, err),
		Err:        err,
	}

	switch {
	case strings.TrimSpace(string(body)) != "":
		fe.Message = string(body)
	case statusCode > 0 && http.StatusText(statusCode) != "":
		fe.Message = http.StatusText(statusCode)
	case err != nil:
		fe.Message = err.Error()
	default:
		fe.Message = "unable to load schema from " + uri
	}

	return fe
}

// classify categorizes a failed fetch for observability.
func classify(statusCode int, err error) ErrorClass {
	switch {
	case statusCode == 0 && err != nil:
		return ErrorClassNetwork
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	case err != nil:
		return ErrorClassNetwork
	default:
		return ErrorClassUnexpected
	}
}
