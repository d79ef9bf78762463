package bookworm

import (
	"errors"
	"fmt"
)

// ErrStatus is wrapped when the API answers with a non-success status.
var ErrStatus = errors.New("bookworm: error status")

// UpstreamQueryError reports a failed call to the counting API: transport,
// status, decoding or deadline. Callers must not cache it.
type UpstreamQueryError struct {
	Method      string
	Fingerprint string
	Err         error
}

func (e *UpstreamQueryError) Error() string {
	return fmt.Sprintf("bookworm %s query %s: %v", e.Method, e.Fingerprint, e.Err)
}

func (e *UpstreamQueryError) Unwrap() error { return e.Err }

func upstream(q Query, err error) error {
	method := q.Method
	if method == "" {
		method = MethodData
	}
	return &UpstreamQueryError{Method: method, Fingerprint: q.Fingerprint(), Err: err}
}
