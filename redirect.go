// Package occlient - Redirect tracking and bounded redirect following
//
// This file records the chain of HTTP redirects a single call walked
// through and implements the iterative follow loop, bounded at three hops,
// that rewrites the request target (and the Destination header used by
// COPY/MOVE-style WebDAV methods) on every hop.
package occlient

import (
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// RedirectionPath records the statuses and target locations seen while one
// redirect sequence was followed. It belongs to a single call and is not
// shared across operations.
type RedirectionPath struct {
	statuses  []int
	locations []string
}

func newRedirectionPath(maxHops int) *RedirectionPath {
	return &RedirectionPath{
		statuses:  make([]int, 0, maxHops+1),
		locations: make([]string, 0, maxHops+1),
	}
}

func (p *RedirectionPath) addStatus(status int) {
	p.statuses = append(p.statuses, status)
}

func (p *RedirectionPath) addLocation(location string) {
	p.locations = append(p.locations, location)
}

// LastStatus returns the status of the final hop, or 0 when nothing was
// recorded.
func (p *RedirectionPath) LastStatus() int {
	if len(p.statuses) == 0 {
		return 0
	}
	return p.statuses[len(p.statuses)-1]
}

// LastLocation returns the most recent redirect target, or an empty string.
func (p *RedirectionPath) LastLocation() string {
	if len(p.locations) == 0 {
		return ""
	}
	return p.locations[len(p.locations)-1]
}

// LocationCount returns how many redirect targets were followed.
func (p *RedirectionPath) LocationCount() int {
	return len(p.locations)
}

// Statuses returns the recorded status chain, first response first.
func (p *RedirectionPath) Statuses() []int {
	out := make([]int, len(p.statuses))
	copy(out, p.statuses)
	return out
}

// Locations returns the recorded redirect targets in the order they were
// followed.
func (p *RedirectionPath) Locations() []string {
	out := make([]string, len(p.locations))
	copy(out, p.locations)
	return out
}

// FollowRedirection iteratively follows the redirect the response points
// at, for at most three hops. Each hop drains the prior response body so
// the connection can be reused, resolves the Location target against the
// current URL, re-targets any Destination header at the new host and
// re-executes the request. The loop stops early when a redirect carries no
// Location header, which is surfaced as a 404, or when the target looks
// like an identity-provider redirect.
//
// The returned path records every status and followed location; the
// returned response is the final hop's.
func (c *Client) FollowRedirection(req *http.Request, resp *http.Response) (*RedirectionPath, *http.Response, error) {
	path := newRedirectionPath(maxRedirectionCount)
	path.addStatus(resp.StatusCode)

	hops := 0
	for hops < maxRedirectionCount && isRedirectStatus(resp.StatusCode) {
		location := resp.Header.Get(headerLocation)
		if location == "" {
			// A redirect with no target is a dead end.
			drainBody(resp)
			resp.StatusCode = http.StatusNotFound
			resp.Status = "404 Not Found"
			path.addStatus(http.StatusNotFound)
			return path, resp, nil
		}
		c.redirectedLocation = location
		if isIdPRedirect(location) {
			// Re-authentication is needed; the caller decides what to do.
			return path, resp, nil
		}
		path.addLocation(location)

		target, err := resp.Request.URL.Parse(location)
		if err != nil {
			return path, resp, errors.Wrapf(err, "resolve redirect target %q", location)
		}

		next, err := rewindRequest(req)
		if err != nil {
			return path, resp, err
		}
		next.URL = target
		next.Host = ""
		retargetDestination(next, target)
		c.authorize(next)

		drainBody(resp)

		resp, err = c.http.Do(next)
		if err != nil {
			return path, nil, err
		}
		path.addStatus(resp.StatusCode)
		req = next
		hops++
	}
	return path, resp, nil
}

// retargetDestination rewrites the Destination header of COPY/MOVE-style
// methods so it points at the redirected host instead of the original one.
func retargetDestination(req *http.Request, target *url.URL) {
	dest := req.Header.Get(headerDestination)
	if dest == "" {
		return
	}
	du, err := url.Parse(dest)
	if err != nil {
		return
	}
	du.Scheme = target.Scheme
	du.Host = target.Host
	req.Header.Set(headerDestination, du.String())
}
