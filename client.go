// Package occlient provides the session and credential core of an
// ownCloud-style HTTP client: pooled per-account sessions, pluggable
// authentication (basic, bearer, session cookie), bounded redirect
// following with identity-provider detection, automatic credential
// refresh on 401, and a typed result classification for everything
// that can go wrong on the wire.
//
// The library is organized into several modules for better maintainability:
//   - client.go: Core client functionality, request execution and credential refresh
//   - credentials.go: Credential types and how they attach auth to a client
//   - redirect.go: Redirect-chain tracking and bounded redirect following
//   - manager.go: Client pooling policies (always-new, single-session, dynamic)
//   - operation.go: Remote-operation template with sync and async execution
//   - result.go: Result codes and transport/HTTP/server-error classification
//   - store.go: Account store collaborators (in-memory, OAuth2-backed)
//   - status.go: Server status probe and version capability checks
//   - utils.go: Helper functions and utilities
//
// Basic usage:
//
//	store := occlient.NewMemoryAccountStore()
//	store.SetCredentials("alice@demo.owncloud.example", occlient.NewBasicCredentials("alice", "secret"))
//
//	pool := occlient.NewSingleSessionManager(store, nil)
//	exec := occlient.NewExecutor(pool, nil)
//
//	account := &occlient.Account{
//		Name:     "alice@demo.owncloud.example",
//		Username: "alice",
//		BaseURL:  "https://demo.owncloud.example",
//	}
//	result := exec.Execute(context.Background(), account, occlient.NewGetStatusOperation())
//	if !result.IsSuccess() {
//		log.Fatal(result.LogMessage())
//	}
//
// Concrete WebDAV/OCS operations live outside this package; they receive a
// configured *Client, issue requests through Execute, and translate the
// response into a *Result.
package occlient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// maxRedirectionCount bounds how many redirect hops Execute will chase.
	maxRedirectionCount = 3

	// maxCredentialRetries bounds how many extra attempts a single Execute
	// may spend on refreshed credentials after a 401.
	maxCredentialRetries = 1

	headerOCSAPIRequest = "OCS-APIREQUEST"
	headerRequestID     = "X-Request-ID"
	headerLocation      = "Location"
	headerDestination   = "Destination"
	headerUserAgent     = "User-Agent"
)

// pool is the back-reference a managed Client keeps to the manager that
// issued it, so the client can take itself out of circulation when its
// credentials cannot be refreshed.
type pool interface {
	evict(c *Client)
}

// Client is a mutable session bound to a server base URL, a concrete
// (possibly anonymous) credential set, and optionally the Account it was
// created for. A Client is not safe for use by two in-flight operations at
// once; the pooling managers hand out one instance per account and callers
// are expected to serialize use of it.
type Client struct {
	http    *http.Client
	baseURL *url.URL

	creds   Credentials
	account *Account
	store   AccountStore
	owner   pool

	version   ServerVersion
	userAgent string
	log       logrus.FieldLogger

	// redirectsEnabled is the configured base policy; followRedirects is
	// the effective one, cleared by session-cookie credentials, which need
	// to surface IdP redirects instead of having them chased.
	redirectsEnabled bool
	followRedirects  bool

	// authorize attaches the active credential to an outgoing request.
	// Never nil after NewClient.
	authorize func(*http.Request)

	// cookieHeader is the raw Cookie header injected by session-cookie
	// credentials. Empty for every other credential type.
	cookieHeader string

	// redirectedLocation is the most recent Location header seen during
	// the latest Execute call, empty when no response carried one.
	redirectedLocation string

	refreshGroup singleflight.Group
}

// NewClient creates a Client for the given server base URL with anonymous
// credentials. Pass nil opts for defaults.
func NewClient(baseURL string, opts *Options) (*Client, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base url %q has no scheme or host", baseURL)
	}

	var hc *http.Client
	if opts.HTTPClient != nil {
		// Copy so overriding CheckRedirect does not leak into a client the
		// caller may share.
		cp := *opts.HTTPClient
		hc = &cp
	} else {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	// Redirects are followed manually so the chain can be recorded and
	// identity-provider targets detected before hopping.
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	c := &Client{
		http:             hc,
		baseURL:          u,
		userAgent:        opts.UserAgent,
		log:              opts.Logger,
		redirectsEnabled: opts.FollowRedirects,
	}
	c.SetCredentials(AnonymousCredentials())
	return c, nil
}

// BaseURL returns the server base URL the client is bound to.
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// SetBaseURL rebinds the client to a new server base URL. Pooling managers
// use this to keep a reused client in step with externally changed account
// state.
func (c *Client) SetBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return errors.Wrapf(err, "parse base url %q", baseURL)
	}
	c.baseURL = u
	return nil
}

// Account returns the account this client was created for, or nil.
func (c *Client) Account() *Account {
	return c.account
}

// SetAccount binds the client to an account and the store holding that
// account's saved state. Both are needed before the 401 refresh path can do
// anything.
func (c *Client) SetAccount(account *Account, store AccountStore) {
	c.account = account
	c.store = store
}

// Credentials returns the active credential set. Never nil.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// SetCredentials replaces the active credentials and applies them to the
// client's outgoing-request configuration. A nil argument falls back to
// anonymous, so the client always holds a concrete credential object.
func (c *Client) SetCredentials(creds Credentials) {
	if creds == nil {
		creds = AnonymousCredentials()
	}
	c.creds = creds
	creds.ApplyTo(c)
}

// ClearCredentials resets the client to anonymous access.
func (c *Client) ClearCredentials() {
	c.SetCredentials(AnonymousCredentials())
}

// Version returns the server version last associated with this client.
func (c *Client) Version() ServerVersion {
	return c.version
}

// SetVersion records the server version for this client.
func (c *Client) SetVersion(v ServerVersion) {
	c.version = v
}

// RedirectedLocation returns the most recent Location header seen during
// the latest Execute call, or an empty string.
func (c *Client) RedirectedLocation() string {
	return c.redirectedLocation
}

// Transport returns an http.RoundTripper that stamps every request the way
// Execute does (credentials, cookie, OCS and trace headers) before handing
// it to the underlying transport. It lets body-parsing collaborators such
// as a WebDAV client ride this client's session.
func (c *Client) Transport() http.RoundTripper {
	return &authTransport{client: c}
}

type authTransport struct {
	client *Client
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	t.client.prepareRequest(r)
	base := t.client.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}

// Execute sends the request with the active credentials, following up to
// three redirects unless the target looks like an identity-provider
// redirect, and retrying once on 401 when the credentials can be refreshed
// from the account store. Transport errors are returned as-is for the
// operation layer to classify; HTTP-level failures come back as a normal
// response.
//
// The caller owns the returned response body. For the refresh retry and for
// redirect hops the request body is replayed through req.GetBody, which
// http.NewRequest sets up for the common body types.
func (c *Client) Execute(req *http.Request) (*http.Response, error) {
	return c.execute(req, 0)
}

func (c *Client) execute(req *http.Request, attempt int) (*http.Response, error) {
	c.prepareRequest(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	c.redirectedLocation = resp.Header.Get(headerLocation)

	if c.followRedirects && isRedirectStatus(resp.StatusCode) && !isIdPRedirect(c.redirectedLocation) {
		_, resp, err = c.FollowRedirection(req, resp)
		if err != nil {
			return nil, err
		}
	}

	if c.shouldInvalidateCredentials(resp.StatusCode) {
		return c.invalidateAndRetry(req, resp, attempt)
	}

	c.saveSessionCookies(req.Context(), resp)
	return resp, nil
}

// prepareRequest stamps the request with a fresh trace id, the OCS marker
// header, the user agent and whatever the active credential configured.
func (c *Client) prepareRequest(req *http.Request) {
	req.Header.Set(headerRequestID, newTraceID())
	req.Header.Set(headerOCSAPIRequest, "true")
	if req.Header.Get(headerUserAgent) == "" {
		req.Header.Set(headerUserAgent, c.userAgent)
	}
	if c.cookieHeader != "" {
		req.Header.Set("Cookie", c.cookieHeader)
	}
	c.authorize(req)
}

// shouldInvalidateCredentials reports whether the outcome of a call means
// the stored credentials are no longer good: an explicit 401, or a redirect
// toward an identity provider, while authenticating as somebody (not
// anonymous) on behalf of a known account.
func (c *Client) shouldInvalidateCredentials(status int) bool {
	if status != http.StatusUnauthorized && !isIdPRedirect(c.redirectedLocation) {
		return false
	}
	if c.creds.AuthToken() == "" {
		return false
	}
	return c.account != nil && c.store != nil
}

// invalidateAndRetry drops the stored token for the account and, when the
// credential type supports refresh and the retry budget allows, reloads
// credentials from the store and replays the call. The reload is
// single-flight so concurrent 401s on the same client trigger one refresh.
// When no retry is possible the client evicts itself from its pool and the
// original response is returned unchanged.
func (c *Client) invalidateAndRetry(req *http.Request, resp *http.Response, attempt int) (*http.Response, error) {
	ctx := req.Context()

	if err := c.store.InvalidateToken(ctx, c.account); err != nil {
		c.log.WithError(err).WithField("account", c.account.Name).
			Warn("could not invalidate stored token")
	}

	if c.creds.AuthTokenExpires() && attempt < maxCredentialRetries {
		_, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
			creds, err := c.store.CredentialsFor(ctx, c.account)
			if err != nil {
				return nil, err
			}
			c.SetCredentials(creds)
			return nil, nil
		})
		if err == nil {
			retry, rerr := rewindRequest(req)
			if rerr == nil {
				c.log.WithField("account", c.account.Name).
					Debug("credentials refreshed, retrying request")
				drainBody(resp)
				return c.execute(retry, attempt+1)
			}
			c.log.WithError(rerr).Debug("request body not replayable, returning 401")
		} else {
			c.log.WithError(err).WithField("account", c.account.Name).
				Debug("credential refresh failed")
		}
	}

	if c.owner != nil {
		c.owner.evict(c)
	}
	return resp, nil
}

// saveSessionCookies persists server-set cookies back to the account store
// for session-cookie credentials, which run with automatic cookie handling
// disabled.
func (c *Client) saveSessionCookies(ctx context.Context, resp *http.Response) {
	if c.store == nil || c.account == nil || c.cookieHeader == "" {
		return
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}
	if err := c.store.SaveCookies(ctx, c.account, cookies); err != nil {
		c.log.WithError(err).WithField("account", c.account.Name).
			Debug("could not persist session cookies")
	}
}

// isIdPRedirect detects a redirect toward an external identity provider by
// substring match on the target location.
func isIdPRedirect(location string) bool {
	if location == "" {
		return false
	}
	l := strings.ToLower(location)
	return strings.Contains(l, "saml") || strings.Contains(l, "wayf")
}
