package main

import (
	"context"
	"errors"
	"fmt"
)

// errorClass tells callers whether a failure may be retried.
type errorClass int

const (
	classFatal errorClass = iota
	classRetryable
)

func (c errorClass) String() string {
	if c == classRetryable {
		return "retryable"
	}
	return "fatal"
}

// Protocol-level failures. None of these are retried.
var (
	errMissingField           = errors.New("missing required field")
	errUnsupportedAlgorithm   = errors.New("unsupported pow algorithm")
	errInvalidDifficulty      = errors.New("invalid pow difficulty")
	errWhitelistProofRequired = errors.New("whitelist phase requires a signature and signer address")
	errSignerRequired         = errors.New("whitelist phase requires a wallet signer")
	errRetriesExhausted       = errors.New("retries exhausted")
)

// apiError represents a non-2xx HTTP response from the API.
type apiError struct {
	StatusCode int
	Message    string
	Body       []byte
	Class      errorClass
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api %d", e.StatusCode)
}

// transportError is a connection-level failure (timeout, reset, DNS).
type transportError struct {
	Method string
	URL    string
	Err    error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *transportError) Unwrap() error { return e.Err }

// protocolError reports a response that does not match the expected shape.
type protocolError struct {
	Op      string
	Field   string
	Payload map[string]any
	Err     error
}

func (e *protocolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %v %q in response: %v", e.Op, e.Err, e.Field, e.Payload)
	}
	if e.Payload != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Err, e.Payload)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *protocolError) Unwrap() error { return e.Err }

// retriesExhaustedError is returned after the last retryable attempt failed.
type retriesExhaustedError struct {
	Method   string
	URL      string
	Attempts int
	Last     error
}

func (e *retriesExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed for %s %s: %v", e.Attempts, e.Method, e.URL, e.Last)
}

func (e *retriesExhaustedError) Unwrap() []error { return []error{errRetriesExhausted, e.Last} }

// classify maps an error onto the fatal/retryable split. An exhausted retry
// loop is reported as retryable: it was retried, and gave up.
func classify(err error) errorClass {
	if err == nil {
		return classFatal
	}
	if errors.Is(err, errRetriesExhausted) {
		return classRetryable
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Class
	}
	var te *transportError
	if errors.As(err, &te) {
		return classRetryable
	}
	return classFatal
}

// isCanceled reports whether err stems from context cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
