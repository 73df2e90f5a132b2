package client

// io module translates model server responses into client errors
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

var (
	// ErrUnprocessableEntity is returned for 422 responses
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	// ErrBadRequest is returned for 4xx responses other than 422
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound is returned for 404 responses
	ErrNotFound = errors.New("not found")
	// ErrGone is returned for 410 responses, i.e. revision is no longer served
	ErrGone = errors.New("resource gone")
	// ErrIO is returned for server side and unexpected failures
	ErrIO = errors.New("io error")
	// ErrRevisionNotFound is returned when requested revision is not served
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrMachineNotFound is returned when target does not match any served machine
	ErrMachineNotFound = errors.New("machine not found")
)

// HTTPError represents unsuccessful model server response
type HTTPError struct {
	Resource string // human readable name of the fetched resource
	Code     int    // HTTP status code
	Content  string // response body
	kind     error
}

// Error implements error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf(
		"failed to get response while fetching resource: %s. Return code: %d. Return content: %s",
		e.Resource, e.Code, e.Content)
}

// Unwrap returns sentinel error of the response class
func (e *HTTPError) Unwrap() error {
	return e.kind
}

// Is reports 404 and 410 responses as ErrBadRequest too
func (e *HTTPError) Is(target error) bool {
	if target == ErrBadRequest {
		return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusUnprocessableEntity
	}
	return target == e.kind
}

// helper function to read response body and map status code to client errors
func handleResponse(resp *http.Response, resourceName string) ([]byte, bool, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("unable to read response for %s: %v: %w", resourceName, err, ErrIO)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		return body, mediaType == "application/json", nil
	}
	herr := &HTTPError{Resource: resourceName, Code: resp.StatusCode, Content: string(body)}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		herr.kind = ErrUnprocessableEntity
	case resp.StatusCode == http.StatusNotFound:
		herr.kind = ErrNotFound
	case resp.StatusCode == http.StatusGone:
		herr.kind = ErrGone
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		herr.kind = ErrBadRequest
	default:
		herr.kind = ErrIO
	}
	return nil, false, herr
}
