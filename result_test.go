package occlient

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseWith(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestResultSuccessFamily(t *testing.T) {
	assert.True(t, NewResult(OK).IsSuccess())
	assert.True(t, NewResult(OKSSL).IsSuccess())
	assert.True(t, NewResult(OKNoSSL).IsSuccess())
	assert.True(t, NewResult(OKRedirectToNonSecureConnection).IsSuccess())

	assert.False(t, NewResult(FileNotFound).IsSuccess())
	assert.False(t, NewResult(Unauthorized).IsSuccess())
	assert.False(t, NewResult(UnknownError).IsSuccess())
}

func TestResultFromStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   ResultCode
	}{
		{http.StatusOK, OK},
		{http.StatusCreated, OK},
		{http.StatusUnauthorized, Unauthorized},
		{http.StatusForbidden, Forbidden},
		{http.StatusNotFound, FileNotFound},
		{http.StatusConflict, Conflict},
		{http.StatusLocked, LockFailed},
		{http.StatusTooEarly, TooEarly},
		{http.StatusInternalServerError, InternalServerError},
		{http.StatusServiceUnavailable, ServiceUnavailable},
		{http.StatusInsufficientStorage, QuotaExceeded},
		{http.StatusTeapot, UnhandledHTTPCode},
	}
	for _, tt := range tests {
		r := ResultFromResponse(responseWith(tt.status, nil, ""))
		assert.Equal(t, tt.want, r.Code(), "status %d", tt.status)
		assert.Equal(t, tt.status, r.HTTPCode())
	}
}

func TestNotFoundWithoutBody(t *testing.T) {
	r := ResultFromResponse(responseWith(http.StatusNotFound, nil, ""))
	assert.Equal(t, FileNotFound, r.Code())
	assert.Equal(t, http.StatusNotFound, r.HTTPCode())
	assert.False(t, r.IsSuccess())
}

const forbiddenBody = `<?xml version="1.0" encoding="utf-8"?>
<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
  <s:exception>Sabre\DAV\Exception\Forbidden</s:exception>
  <s:message>You are not allowed to share this file</s:message>
</d:error>`

const invalidPathBody = `<?xml version="1.0" encoding="utf-8"?>
<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
  <s:exception>OC\Connector\Sabre\Exception\InvalidPath</s:exception>
  <s:message>File name contains an invalid character</s:message>
</d:error>`

func TestForbiddenWithServerMessage(t *testing.T) {
	r := ResultFromResponse(responseWith(http.StatusForbidden, nil, forbiddenBody))
	assert.Equal(t, SpecificForbidden, r.Code())
	assert.Equal(t, "You are not allowed to share this file", r.HTTPPhrase())
}

func TestForbiddenWithUnrelatedBody(t *testing.T) {
	r := ResultFromResponse(responseWith(http.StatusForbidden, nil, "<html>nope</html>"))
	assert.Equal(t, Forbidden, r.Code())

	r = ResultFromResponse(responseWith(http.StatusForbidden, nil, ""))
	assert.Equal(t, Forbidden, r.Code())
}

func TestInvalidPathRejection(t *testing.T) {
	r := ResultFromResponse(responseWith(http.StatusBadRequest, nil, invalidPathBody))
	assert.Equal(t, InvalidCharacterInServer, r.Code())
	assert.Equal(t, "File name contains an invalid character", r.HTTPPhrase())
}

func TestServiceUnavailableWithServerMessage(t *testing.T) {
	body := `<d:error xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns">
  <s:exception>OC\ServiceUnavailableException</s:exception>
  <s:message>System in maintenance mode</s:message>
</d:error>`
	r := ResultFromResponse(responseWith(http.StatusServiceUnavailable, nil, body))
	assert.Equal(t, SpecificServiceUnavailable, r.Code())
	assert.Equal(t, "System in maintenance mode", r.HTTPPhrase())
}

func TestAuthenticateHeadersAreCaptured(t *testing.T) {
	h := http.Header{}
	h.Add("Www-Authenticate", `Basic realm="owncloud"`)
	h.Add("Www-Authenticate", `Bearer realm="owncloud"`)
	r := ResultFromResponse(responseWith(http.StatusUnauthorized, h, ""))
	require.Len(t, r.AuthenticateHeaders(), 2)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestErrorClassification(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "missing.example", IsNotFound: true}

	tests := []struct {
		name string
		err  error
		want ResultCode
	}{
		{"cancelled", context.Canceled, Cancelled},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped cancelled", pkgerrors.Wrap(context.Canceled, "run op"), Cancelled},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutError{}}, Timeout},
		{"unknown host", &net.OpError{Op: "dial", Err: dnsErr}, HostNotAvailable},
		{"connection refused", &net.OpError{Op: "dial", Err: pkgerrors.New("connection refused")}, WrongConnection},
		{"account missing", pkgerrors.Wrap(ErrAccountNotFound, "alice@server"), AccountNotFound},
		{"anything else", pkgerrors.New("boom"), UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ResultFromError(tt.err)
			assert.Equal(t, tt.want, r.Code())
			assert.False(t, r.IsSuccess())
			assert.Equal(t, tt.err, r.Err())
		})
	}
}

func TestMalformedURLClassifiesAsIncorrectAddress(t *testing.T) {
	_, err := http.NewRequest(http.MethodGet, "http://bad url with spaces", nil)
	require.Error(t, err)
	r := ResultFromError(err)
	assert.Equal(t, IncorrectAddress, r.Code())
}

func TestRedirectBookkeepingOnResult(t *testing.T) {
	r := NewResult(OK)
	r.setRedirectedLocation("http://insecure.example/files")
	assert.True(t, r.IsRedirectToNonSecureConnection())
	assert.False(t, r.IsIdPRedirection())

	r.setRedirectedLocation("https://idp.example/saml/sso")
	assert.False(t, r.IsRedirectToNonSecureConnection())
	assert.True(t, r.IsIdPRedirection())
}

func TestLogMessage(t *testing.T) {
	assert.Equal(t, "operation finished with success", NewResult(OK).LogMessage())

	r := ResultFromResponse(responseWith(http.StatusForbidden, nil, forbiddenBody))
	assert.Contains(t, r.LogMessage(), "You are not allowed to share this file")

	r = ResultFromError(context.DeadlineExceeded)
	assert.Contains(t, r.LogMessage(), "timed out")
}

func TestCancelledIsNotSuccessButIsCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	r := ResultFromError(ctx.Err())
	assert.True(t, r.Code() == Timeout || r.Code() == Cancelled)
	assert.False(t, r.IsSuccess())
}
