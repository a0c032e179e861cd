// Package occlient - Operation results and error classification
//
// This file defines the closed set of result codes an operation can end in
// and the three ways a Result is built: from an explicit code, from a
// transport error (walking the cause chain), or from an HTTP response
// (status mapping plus WebDAV XML error-body refinement for a handful of
// statuses). Failures travel as values, never as panics or raw errors, so
// callers of the operation layer switch on a code instead of unwrapping
// exception chains.
package occlient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ResultCode is the closed classification of an operation outcome.
type ResultCode uint32

const (
	// OK indicates plain success.
	OK ResultCode = iota

	// OKSSL indicates success over a TLS connection.
	OKSSL

	// OKNoSSL indicates success over a plaintext connection.
	OKNoSSL

	// OKRedirectToNonSecureConnection indicates success reached through a
	// redirect that downgraded the connection to plaintext.
	OKRedirectToNonSecureConnection

	// Unauthorized maps HTTP 401 and identity-provider redirects that
	// could not be healed by a credential refresh.
	Unauthorized

	// Forbidden maps HTTP 403 without a server-supplied reason.
	Forbidden

	// SpecificForbidden maps HTTP 403 carrying a parseable server message.
	SpecificForbidden

	// InvalidCharacterInServer maps the server-side invalid-path rejection
	// of names the server cannot store.
	InvalidCharacterInServer

	// FileNotFound maps HTTP 404 and local not-found errors.
	FileNotFound

	// Conflict maps HTTP 409.
	Conflict

	// LockFailed maps HTTP 423.
	LockFailed

	// TooEarly maps HTTP 425.
	TooEarly

	// InstanceNotConfigured is returned when the server answers but
	// reports itself as not installed.
	InstanceNotConfigured

	// ServiceUnavailable maps HTTP 503 without a server-supplied reason.
	ServiceUnavailable

	// SpecificServiceUnavailable maps HTTP 503 carrying a parseable server
	// message, typically maintenance mode.
	SpecificServiceUnavailable

	// SpecificUnsupportedMediaType maps HTTP 415 carrying a parseable
	// server message.
	SpecificUnsupportedMediaType

	// SpecificMethodNotAllowed maps HTTP 405 carrying a parseable server
	// message.
	SpecificMethodNotAllowed

	// QuotaExceeded maps HTTP 507.
	QuotaExceeded

	// InternalServerError maps HTTP 500.
	InternalServerError

	// UnhandledHTTPCode covers every failing status with no dedicated
	// code.
	UnhandledHTTPCode

	// WrongConnection covers refused or reset connections.
	WrongConnection

	// Timeout covers deadline and socket timeouts.
	Timeout

	// IncorrectAddress covers malformed target URLs.
	IncorrectAddress

	// HostNotAvailable covers name-resolution failures.
	HostNotAvailable

	// SSLError covers hard TLS failures.
	SSLError

	// SSLRecoverablePeerUnverified covers certificate-trust failures a
	// user could resolve by accepting the certificate.
	SSLRecoverablePeerUnverified

	// Cancelled indicates the caller cancelled the operation.
	Cancelled

	// AccountNotFound indicates the account store has no such account.
	AccountNotFound

	// UnknownError is the fallback for everything unclassified.
	UnknownError
)

// String returns a short diagnostic name for the code.
func (c ResultCode) String() string {
	switch c {
	case OK:
		return "operation finished with success"
	case OKSSL:
		return "operation finished with success over a secure connection"
	case OKNoSSL:
		return "operation finished with success over an insecure connection"
	case OKRedirectToNonSecureConnection:
		return "operation succeeded after a redirect to an insecure connection"
	case Unauthorized:
		return "operation failed due to bad or expired credentials"
	case Forbidden:
		return "operation forbidden by the server"
	case SpecificForbidden:
		return "operation forbidden by the server with an explicit reason"
	case InvalidCharacterInServer:
		return "the server rejected the name as invalid"
	case FileNotFound:
		return "file or resource not found"
	case Conflict:
		return "operation conflicts with the current server state"
	case LockFailed:
		return "resource is locked on the server"
	case TooEarly:
		return "the server is not ready to process the request yet"
	case InstanceNotConfigured:
		return "the server instance is not configured"
	case ServiceUnavailable:
		return "service temporarily unavailable"
	case SpecificServiceUnavailable:
		return "service temporarily unavailable with an explicit reason"
	case SpecificUnsupportedMediaType:
		return "media type not supported by the server"
	case SpecificMethodNotAllowed:
		return "method not allowed by the server"
	case QuotaExceeded:
		return "storage quota exceeded"
	case InternalServerError:
		return "the server failed internally"
	case UnhandledHTTPCode:
		return "unhandled HTTP status"
	case WrongConnection:
		return "connection failed"
	case Timeout:
		return "operation timed out"
	case IncorrectAddress:
		return "malformed server address"
	case HostNotAvailable:
		return "server host could not be resolved"
	case SSLError:
		return "TLS connection failed"
	case SSLRecoverablePeerUnverified:
		return "server certificate could not be verified"
	case Cancelled:
		return "operation cancelled by the caller"
	case AccountNotFound:
		return "account not found"
	default:
		return "unknown error"
	}
}

// IsSuccess reports whether the code belongs to the OK family.
func (c ResultCode) IsSuccess() bool {
	switch c {
	case OK, OKSSL, OKNoSSL, OKRedirectToNonSecureConnection:
		return true
	}
	return false
}

// invalidPathExceptionMarker is the server exception class the WebDAV error
// body carries when a path contains characters the server cannot store.
const invalidPathExceptionMarker = `OC\Connector\Sabre\Exception\InvalidPath`

// errorBodyReadLimit caps how much of an error body is read while looking
// for the server-supplied message.
const errorBodyReadLimit = 64 << 10

// Result is the immutable-after-construction outcome of a remote
// operation: a code from the closed set, the HTTP status and phrase when
// one was involved, the original error when one occurred, and an optional
// payload set by the concrete operation.
type Result struct {
	code       ResultCode
	httpCode   int
	httpPhrase string
	err        error
	data       interface{}

	redirectedLocation  string
	authenticateHeaders []string
}

// NewResult builds a Result from an explicit, caller-decided code.
func NewResult(code ResultCode) *Result {
	return &Result{code: code}
}

// ResultFromError classifies a transport or local error into a Result,
// walking the cause chain for the known failure shapes.
func ResultFromError(err error) *Result {
	return &Result{code: codeForError(err), err: err}
}

// ResultFromResponse classifies an HTTP response into a Result. For the
// statuses whose bodies may carry a WebDAV error document (400, 403, 405,
// 415, 503) the body is read, up to a fixed limit, to extract the
// server-supplied message and refine the code; the parsed message becomes
// the HTTP phrase. WWW-Authenticate challenges are captured for the
// authentication flow upstream.
func ResultFromResponse(resp *http.Response) *Result {
	r := &Result{
		httpCode:   resp.StatusCode,
		httpPhrase: strings.TrimPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)),
	}
	r.code = codeForStatus(resp.StatusCode)
	r.authenticateHeaders = resp.Header.Values("Www-Authenticate")

	if wantsErrorBody(resp.StatusCode) && resp.Body != nil {
		if msg, refined, ok := parseErrorBody(resp.Body, resp.StatusCode); ok {
			r.httpPhrase = msg
			r.code = refined
		}
	}
	return r
}

// codeForStatus maps a bare HTTP status to a result code.
func codeForStatus(status int) ResultCode {
	if status >= 200 && status < 300 {
		return OK
	}
	switch status {
	case http.StatusUnauthorized:
		return Unauthorized
	case http.StatusForbidden:
		return Forbidden
	case http.StatusNotFound:
		return FileNotFound
	case http.StatusConflict:
		return Conflict
	case http.StatusLocked:
		return LockFailed
	case http.StatusTooEarly:
		return TooEarly
	case http.StatusInternalServerError:
		return InternalServerError
	case http.StatusServiceUnavailable:
		return ServiceUnavailable
	case http.StatusInsufficientStorage:
		return QuotaExceeded
	default:
		return UnhandledHTTPCode
	}
}

// wantsErrorBody reports whether the status is one whose body may refine
// the code.
func wantsErrorBody(status int) bool {
	switch status {
	case http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusMethodNotAllowed,
		http.StatusUnsupportedMediaType,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// davErrorBody is the WebDAV error document ownCloud-style servers attach
// to rejected requests.
type davErrorBody struct {
	XMLName   xml.Name `xml:"error"`
	Exception string   `xml:"exception"`
	Message   string   `xml:"message"`
}

// parseErrorBody extracts the server message from a WebDAV error body and
// picks the refined code for the status. Returns ok=false when the body is
// not such a document or carries no message.
func parseErrorBody(body io.Reader, status int) (string, ResultCode, bool) {
	raw, err := io.ReadAll(io.LimitReader(body, errorBodyReadLimit))
	if err != nil || len(raw) == 0 {
		return "", 0, false
	}
	var doc davErrorBody
	if err := xml.Unmarshal(raw, &doc); err != nil || doc.Message == "" {
		return "", 0, false
	}

	switch status {
	case http.StatusBadRequest:
		if strings.Contains(doc.Exception, invalidPathExceptionMarker) {
			return doc.Message, InvalidCharacterInServer, true
		}
	case http.StatusForbidden:
		return doc.Message, SpecificForbidden, true
	case http.StatusMethodNotAllowed:
		return doc.Message, SpecificMethodNotAllowed, true
	case http.StatusUnsupportedMediaType:
		return doc.Message, SpecificUnsupportedMediaType, true
	case http.StatusServiceUnavailable:
		return doc.Message, SpecificServiceUnavailable, true
	}
	return "", 0, false
}

// codeForError maps a transport or local error to a result code. The cause
// chain is walked with errors.As/Is, so wrapped errors classify the same as
// bare ones.
func codeForError(err error) ResultCode {
	if err == nil {
		return UnknownError
	}

	switch {
	case isCause(err, context.Canceled):
		return Cancelled
	case isCause(err, context.DeadlineExceeded):
		return Timeout
	case isCause(err, ErrAccountNotFound):
		return AccountNotFound
	case isCause(err, os.ErrNotExist):
		return FileNotFound
	}

	if dns, ok := causeOf[*net.DNSError](err); ok && dns != nil {
		return HostNotAvailable
	}
	if _, ok := causeOf[x509.UnknownAuthorityError](err); ok {
		return SSLRecoverablePeerUnverified
	}
	if _, ok := causeOf[x509.HostnameError](err); ok {
		return SSLRecoverablePeerUnverified
	}
	if _, ok := causeOf[x509.CertificateInvalidError](err); ok {
		return SSLRecoverablePeerUnverified
	}
	if _, ok := causeOf[*tls.CertificateVerificationError](err); ok {
		return SSLRecoverablePeerUnverified
	}
	if _, ok := causeOf[tls.RecordHeaderError](err); ok {
		return SSLError
	}
	if ne, ok := causeOf[net.Error](err); ok && ne.Timeout() {
		return Timeout
	}
	if ue, ok := causeOf[*url.Error](err); ok {
		// A URL that never parsed has no operation behind it.
		if ue.Op == "parse" {
			return IncorrectAddress
		}
	}
	if _, ok := causeOf[*net.OpError](err); ok {
		return WrongConnection
	}
	return UnknownError
}

// Code returns the result code.
func (r *Result) Code() ResultCode {
	return r.code
}

// IsSuccess reports whether the code belongs to the OK family.
func (r *Result) IsSuccess() bool {
	return r.code.IsSuccess()
}

// IsCancelled reports whether the operation ended by caller cancellation.
func (r *Result) IsCancelled() bool {
	return r.code == Cancelled
}

// IsSSLRecoverable reports whether the failure is a certificate-trust
// problem a user decision could resolve.
func (r *Result) IsSSLRecoverable() bool {
	return r.code == SSLRecoverablePeerUnverified
}

// HTTPCode returns the HTTP status involved, or 0.
func (r *Result) HTTPCode() int {
	return r.httpCode
}

// HTTPPhrase returns the HTTP reason phrase or the server-supplied error
// message when one was parsed.
func (r *Result) HTTPPhrase() string {
	return r.httpPhrase
}

// Err returns the original error, or nil.
func (r *Result) Err() error {
	return r.err
}

// Data returns the payload the concrete operation attached.
func (r *Result) Data() interface{} {
	return r.data
}

// SetData attaches the operation's typed payload.
func (r *Result) SetData(data interface{}) {
	r.data = data
}

// RedirectedLocation returns the redirect target recorded for the call, or
// an empty string.
func (r *Result) RedirectedLocation() string {
	return r.redirectedLocation
}

func (r *Result) setRedirectedLocation(location string) {
	r.redirectedLocation = location
}

// IsRedirectToNonSecureConnection reports whether the recorded redirect
// points at a plaintext endpoint.
func (r *Result) IsRedirectToNonSecureConnection() bool {
	return strings.HasPrefix(strings.ToLower(r.redirectedLocation), "http:")
}

// IsIdPRedirection reports whether the recorded redirect targets an
// identity provider.
func (r *Result) IsIdPRedirection() bool {
	return isIdPRedirect(r.redirectedLocation)
}

// AuthenticateHeaders returns the WWW-Authenticate challenges accumulated
// from the response, if any.
func (r *Result) AuthenticateHeaders() []string {
	return r.authenticateHeaders
}

// LogMessage returns a short human-readable diagnostic for the result.
func (r *Result) LogMessage() string {
	if r.err != nil {
		return fmt.Sprintf("%s (%v)", r.code, r.err)
	}
	if r.httpCode > 0 && r.httpPhrase != "" && !r.code.IsSuccess() {
		return fmt.Sprintf("%s (HTTP %d: %s)", r.code, r.httpCode, r.httpPhrase)
	}
	return r.code.String()
}
