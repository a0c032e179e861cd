// Package occlient - Utility functions and helpers
//
// This file contains small helpers used throughout the occlient library:
// request body replay, response draining for connection reuse, redirect
// status checks, URL joining and trace-id generation.
package occlient

import (
	"io"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// drainBodyLimit caps how much of an abandoned response body is read before
// closing it, enough to let the connection return to the pool.
const drainBodyLimit = 1 << 20

// isRedirectStatus reports whether the status is one the client will
// consider following.
func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}

// drainBody exhausts and closes a response body that will not be read by
// the caller, so the underlying connection is not wasted.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainBodyLimit))
	_ = resp.Body.Close()
}

// rewindRequest clones a request for re-execution, replaying the body
// through GetBody. Requests without a body always rewind; requests whose
// body cannot be replayed return an error.
func rewindRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, errors.Wrap(err, "replay request body")
	}
	clone.Body = body
	return clone, nil
}

// joinURL appends a path to a base URL, collapsing duplicate slashes at the
// seam.
func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// newTraceID returns the per-request id stamped into X-Request-ID.
func newTraceID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// The random source failing is not worth aborting a request over.
		return "00000000-0000-0000-0000-000000000000"
	}
	return id.String()
}

// sessionKey is the map key for clients whose account has no resolved name
// yet: the server base URL plus the auth token establishing the session.
func sessionKey(baseURL, authToken string) string {
	return baseURL + "#" + authToken
}
