package vcf

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies a failed API call into the categories the sync
// engine reports to operators.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindHostUnreachable   ErrorKind = "host_unreachable"
	KindTLS               ErrorKind = "tls_error"
	KindAuthFailed        ErrorKind = "auth_failed"
	KindForbidden         ErrorKind = "forbidden"
	KindNotFound          ErrorKind = "not_found"
	KindHTTP              ErrorKind = "http_error"
	KindUnknown           ErrorKind = "unknown"
)

// APIError is the typed failure surfaced by every client call. It keeps
// the short operator message separate from the wrapped cause so the
// environment error fields never leak stack detail.
type APIError struct {
	Kind       ErrorKind
	Host       string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Host, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Host, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// OperatorMessage returns a short human-readable description suitable for
// the environment's per-source error field.
func (e *APIError) OperatorMessage() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("Connection to %s timed out", e.Host)
	case KindConnectionRefused:
		return fmt.Sprintf("Connection refused by %s - server may be down", e.Host)
	case KindHostUnreachable:
		return fmt.Sprintf("Host not found: %s - check hostname", e.Host)
	case KindTLS:
		return fmt.Sprintf("SSL error connecting to %s - try disabling SSL verification", e.Host)
	case KindAuthFailed:
		return fmt.Sprintf("Authentication failed for %s - check credentials", e.Host)
	case KindForbidden:
		return fmt.Sprintf("Access denied by %s - account lacks permission", e.Host)
	case KindNotFound:
		return fmt.Sprintf("API endpoint not found on %s", e.Host)
	case KindHTTP:
		return fmt.Sprintf("HTTP error %d from %s", e.StatusCode, e.Host)
	}
	return fmt.Sprintf("Unexpected error connecting to %s", e.Host)
}

// classifyTransport maps a transport-level error from the http client to
// an APIError.
func classifyTransport(host string, err error) *APIError {
	kind := KindUnknown

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case isTimeout(err):
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.As(err, &dnsErr),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		kind = KindHostUnreachable
	case errors.As(err, &certErr),
		errors.As(err, &unknownAuthErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &recordErr):
		kind = KindTLS
	}

	return &APIError{Kind: kind, Host: host, Err: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyStatus maps a non-2xx HTTP response to an APIError.
func classifyStatus(host string, status int) *APIError {
	kind := KindHTTP
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuthFailed
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &APIError{Kind: kind, Host: host, StatusCode: status}
}
