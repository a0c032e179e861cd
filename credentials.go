// Package occlient - Credential types
//
// This file defines how the different authentication styles of an
// ownCloud-style server attach themselves to a Client: HTTP Basic, OAuth2
// bearer tokens, SAML session cookies, and the anonymous fallback. Applying
// a credential reconfigures the client completely, so exactly one auth
// mechanism is active at any time and switching between types never leaves
// stale state behind.
package occlient

import "net/http"

// Credentials describes one way of authenticating against the server.
// ApplyTo mutates the client's outgoing-request configuration to match the
// credential type; the remaining methods report read-only facts the
// client's refresh logic relies on.
type Credentials interface {
	// ApplyTo configures the client for this credential. It must leave
	// exactly one auth mechanism active and has no side effect beyond the
	// client it is applied to.
	ApplyTo(c *Client)

	// Username returns the account username, empty for anonymous access.
	Username() string

	// AuthToken returns the secret attached to requests: the password for
	// basic auth, the access token for bearer auth, the session cookie
	// value for SAML sessions. Empty for anonymous access.
	AuthToken() string

	// AuthTokenExpires reports whether the token can expire and be
	// replaced by reloading credentials from the account store. Only such
	// credentials take part in the 401 refresh-and-retry path.
	AuthTokenExpires() bool
}

type anonymousCredentials struct{}

// AnonymousCredentials returns the credential applied when nothing better
// is known: it clears every auth mechanism from the client.
func AnonymousCredentials() Credentials {
	return anonymousCredentials{}
}

func (anonymousCredentials) ApplyTo(c *Client) {
	c.cookieHeader = ""
	c.followRedirects = c.redirectsEnabled
	c.authorize = func(req *http.Request) {
		req.Header.Del("Authorization")
	}
}

func (anonymousCredentials) Username() string       { return "" }
func (anonymousCredentials) AuthToken() string      { return "" }
func (anonymousCredentials) AuthTokenExpires() bool { return false }

type basicCredentials struct {
	username string
	password string
}

// NewBasicCredentials returns credentials that authenticate every request
// preemptively with HTTP Basic auth.
func NewBasicCredentials(username, password string) Credentials {
	return basicCredentials{username: username, password: password}
}

func (b basicCredentials) ApplyTo(c *Client) {
	c.cookieHeader = ""
	c.followRedirects = c.redirectsEnabled
	c.authorize = func(req *http.Request) {
		req.SetBasicAuth(b.username, b.password)
	}
}

func (b basicCredentials) Username() string       { return b.username }
func (b basicCredentials) AuthToken() string      { return b.password }
func (b basicCredentials) AuthTokenExpires() bool { return false }

type bearerCredentials struct {
	username string
	token    string
}

// NewBearerCredentials returns credentials that authenticate with an OAuth2
// bearer token. Bearer tokens expire; on a 401 the client invalidates the
// stored token and reloads credentials from the account store once before
// giving up.
func NewBearerCredentials(username, token string) Credentials {
	return bearerCredentials{username: username, token: token}
}

func (b bearerCredentials) ApplyTo(c *Client) {
	c.cookieHeader = ""
	c.followRedirects = c.redirectsEnabled
	c.authorize = func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
}

func (b bearerCredentials) Username() string       { return b.username }
func (b bearerCredentials) AuthToken() string      { return b.token }
func (b bearerCredentials) AuthTokenExpires() bool { return true }

type sessionCookieCredentials struct {
	username string
	cookie   string
}

// NewSessionCookieCredentials returns credentials for a SAML-established
// session. The raw cookie is injected into every request, no Authorization
// header is sent, and redirect following is disabled so the caller sees an
// identity-provider redirect instead of the client chasing it.
func NewSessionCookieCredentials(username, cookie string) Credentials {
	return sessionCookieCredentials{username: username, cookie: cookie}
}

func (s sessionCookieCredentials) ApplyTo(c *Client) {
	c.cookieHeader = s.cookie
	c.followRedirects = false
	c.authorize = func(req *http.Request) {
		req.Header.Del("Authorization")
	}
}

func (s sessionCookieCredentials) Username() string       { return s.username }
func (s sessionCookieCredentials) AuthToken() string      { return s.cookie }
func (s sessionCookieCredentials) AuthTokenExpires() bool { return true }
