// Package occlient - Account and configuration types
//
// This file holds the externally owned Account value, the client Options
// with their defaults and validation, and shared constants.
package occlient

import (
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultUserAgent identifies the library on the wire.
const DefaultUserAgent = "occlient/1.0"

// DefaultTimeout bounds a single request when no custom HTTP client is
// supplied.
const DefaultTimeout = 60 * time.Second

// Account identifies a server+user pair. Accounts are owned externally (by
// whatever account system the application uses); this library only reads
// them and keys its pools by Name.
type Account struct {
	// Name is the unique account name, conventionally "user@server-host".
	// Empty while the account has not been resolved yet, in which case
	// pooled clients are tracked by session key instead.
	Name string

	// Username is the login name on the server.
	Username string

	// BaseURL is the server root, e.g. "https://demo.owncloud.example".
	BaseURL string
}

// Options configures a Client. The zero value is usable; nil is accepted
// everywhere an *Options is taken and means defaults.
type Options struct {
	// Timeout bounds each request when HTTPClient is nil.
	Timeout time.Duration

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// FollowRedirects enables the bounded redirect following. Enabled by
	// DefaultOptions; session-cookie credentials force it off regardless.
	FollowRedirects bool

	// Logger receives leveled diagnostics. Defaults to a logger that
	// discards everything.
	Logger logrus.FieldLogger

	// HTTPClient overrides the underlying transport; its CheckRedirect is
	// replaced, redirects are always handled by this library.
	HTTPClient *http.Client
}

// DefaultOptions returns the options used when nil is passed.
func DefaultOptions() *Options {
	return &Options{
		Timeout:         DefaultTimeout,
		UserAgent:       DefaultUserAgent,
		FollowRedirects: true,
		Logger:          discardLogger(),
	}
}

// withDefaults fills unset fields, leaving the receiver untouched.
func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.UserAgent == "" {
		out.UserAgent = DefaultUserAgent
	}
	if out.Logger == nil {
		out.Logger = discardLogger()
	}
	return &out
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
