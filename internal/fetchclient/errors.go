package fetchclient

import (
	"errors"
	"fmt"
)

// ErrResponseTooLarge aborts a bounded streaming read once the accumulated
// body exceeds the hard cap. Fatal for that fetch and never retried: an
// oversized page signals abuse or a malformed source, not a transient fault.
var ErrResponseTooLarge = errors.New("response exceeded size limit")

// ErrProxyRequired is returned when an anonymized-network destination is
// requested but no SOCKS proxy is configured.
var ErrProxyRequired = errors.New("onion destination requires a SOCKS proxy")

// HTTPError is a non-2xx response that survived the retry budget.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

// NetworkError is a transport-level failure (DNS, TLS, connect, read).
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
