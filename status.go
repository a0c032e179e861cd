// Package occlient - Server status probe and version capabilities
//
// The status endpoint is the one piece of server interaction this core owns
// itself, because the pooling policy depends on it: the reported version
// decides whether session reuse is safe for the target server.
package occlient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// statusPath is the well-known status endpoint of ownCloud-style servers.
const statusPath = "/status.php"

// statusBodyReadLimit caps how much of the status body is read.
const statusBodyReadLimit = 1 << 20

// ServerStatus is the parsed answer of the status endpoint.
type ServerStatus struct {
	Installed      bool   `json:"installed"`
	Maintenance    bool   `json:"maintenance"`
	NeedsDBUpgrade bool   `json:"needsDbUpgrade"`
	Version        string `json:"version"`
	VersionString  string `json:"versionstring"`
	Edition        string `json:"edition"`
}

// ServerVersion is a parsed MAJOR.MINOR.MICRO server version. The zero
// value means "unknown".
type ServerVersion struct {
	major, minor, micro int
	known               bool
}

// minVersionSessionMonitoring is the first server version whose sessions
// are safe to reuse across operations.
var minVersionSessionMonitoring = ServerVersion{major: 8, minor: 1, known: true}

// ParseServerVersion parses a dotted version string; components beyond the
// third are ignored, missing ones default to zero.
func ParseServerVersion(s string) (ServerVersion, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ServerVersion{}, errors.New("empty version string")
	}
	parts := strings.Split(s, ".")
	nums := [3]int{}
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return ServerVersion{}, errors.Wrapf(err, "parse version %q", s)
		}
		nums[i] = n
	}
	return ServerVersion{major: nums[0], minor: nums[1], micro: nums[2], known: true}, nil
}

// String returns the dotted form, or an empty string for the zero value.
func (v ServerVersion) String() string {
	if !v.known {
		return ""
	}
	return strconv.Itoa(v.major) + "." + strconv.Itoa(v.minor) + "." + strconv.Itoa(v.micro)
}

// IsZero reports whether the version is unknown.
func (v ServerVersion) IsZero() bool {
	return !v.known
}

// AtLeast reports whether v is o or newer. Unknown versions compare below
// everything.
func (v ServerVersion) AtLeast(o ServerVersion) bool {
	if !v.known {
		return false
	}
	if v.major != o.major {
		return v.major > o.major
	}
	if v.minor != o.minor {
		return v.minor > o.minor
	}
	return v.micro >= o.micro
}

// SupportsSessionMonitoring reports whether sessions on this server version
// are safe to reuse, which selects the single-session pooling policy.
func (v ServerVersion) SupportsSessionMonitoring() bool {
	return v.AtLeast(minVersionSessionMonitoring)
}

// GetStatusOperation probes the server status endpoint. On success the
// result carries a *ServerStatus payload and a code reflecting how the
// server was reached: OKSSL for TLS, OKNoSSL for plaintext, and
// OKRedirectToNonSecureConnection when a redirect downgraded a TLS base URL
// to plaintext. The parsed server version is stored on the client.
type GetStatusOperation struct{}

// NewGetStatusOperation returns a status probe operation.
func NewGetStatusOperation() *GetStatusOperation {
	return &GetStatusOperation{}
}

// Run implements Operation.
func (o *GetStatusOperation) Run(ctx context.Context, client *Client) *Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(client.BaseURL().String(), statusPath), nil)
	if err != nil {
		return ResultFromError(err)
	}

	resp, err := client.Execute(req)
	if err != nil {
		return ResultFromError(err)
	}
	defer drainBody(resp)

	if resp.StatusCode != http.StatusOK {
		return ResultFromResponse(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, statusBodyReadLimit))
	if err != nil {
		return ResultFromError(err)
	}
	var status ServerStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return ResultFromError(&OperationError{Op: "parse server status", Err: err})
	}
	if !status.Installed {
		return NewResult(InstanceNotConfigured)
	}
	if status.Maintenance {
		return NewResult(ServiceUnavailable)
	}

	if v, err := ParseServerVersion(status.Version); err == nil {
		client.SetVersion(v)
	}

	result := NewResult(o.reachCode(client))
	result.SetData(&status)
	return result
}

// reachCode classifies how the server was reached for the OK-family codes.
func (o *GetStatusOperation) reachCode(client *Client) ResultCode {
	secureBase := client.BaseURL().Scheme == "https"
	redirected := client.RedirectedLocation()
	if secureBase && strings.HasPrefix(strings.ToLower(redirected), "http:") {
		return OKRedirectToNonSecureConnection
	}
	if secureBase {
		return OKSSL
	}
	return OKNoSSL
}
