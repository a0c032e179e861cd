package occlient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, base string) *Client {
	t.Helper()
	c, err := NewClient(base, nil)
	require.NoError(t, err)
	return c
}

// authState captures which auth mechanisms a prepared request ends up with.
type authState struct {
	authorization string
	cookie        string
}

func prepared(c *Client) authState {
	req, _ := http.NewRequest(http.MethodGet, c.BaseURL().String()+"/", nil)
	c.prepareRequest(req)
	return authState{
		authorization: req.Header.Get("Authorization"),
		cookie:        req.Header.Get("Cookie"),
	}
}

func TestCredentialsApplyExactlyOneMechanism(t *testing.T) {
	tests := []struct {
		name       string
		creds      Credentials
		wantAuth   bool
		wantCookie bool
	}{
		{"anonymous", AnonymousCredentials(), false, false},
		{"basic", NewBasicCredentials("alice", "secret"), true, false},
		{"bearer", NewBearerCredentials("alice", "tok123"), true, false},
		{"cookie", NewSessionCookieCredentials("alice", "oc_session=abc"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "https://server.example")
			c.SetCredentials(tt.creds)

			st := prepared(c)
			assert.Equal(t, tt.wantAuth, st.authorization != "", "Authorization header presence")
			assert.Equal(t, tt.wantCookie, st.cookie != "", "Cookie header presence")
			assert.False(t, st.authorization != "" && st.cookie != "", "two auth mechanisms active at once")
		})
	}
}

func TestCredentialTransitionsLeaveNoStaleState(t *testing.T) {
	c := newTestClient(t, "https://server.example")

	c.SetCredentials(NewSessionCookieCredentials("alice", "oc_session=abc"))
	assert.False(t, c.followRedirects, "cookie credentials must disable redirect following")

	c.SetCredentials(NewBasicCredentials("alice", "secret"))
	st := prepared(c)
	assert.Empty(t, st.cookie, "cookie survived switch to basic auth")
	assert.NotEmpty(t, st.authorization)
	assert.True(t, c.followRedirects, "redirect following not restored")

	c.ClearCredentials()
	st = prepared(c)
	assert.Empty(t, st.authorization)
	assert.Empty(t, st.cookie)
}

func TestSetCredentialsNeverLeavesNil(t *testing.T) {
	c := newTestClient(t, "https://server.example")
	c.SetCredentials(nil)
	require.NotNil(t, c.Credentials())
	assert.Empty(t, c.Credentials().AuthToken())
}

func TestCredentialFacts(t *testing.T) {
	basic := NewBasicCredentials("alice", "secret")
	assert.Equal(t, "alice", basic.Username())
	assert.Equal(t, "secret", basic.AuthToken())
	assert.False(t, basic.AuthTokenExpires())

	bearer := NewBearerCredentials("alice", "tok123")
	assert.Equal(t, "tok123", bearer.AuthToken())
	assert.True(t, bearer.AuthTokenExpires())

	cookie := NewSessionCookieCredentials("alice", "oc_session=abc")
	assert.Equal(t, "oc_session=abc", cookie.AuthToken())
	assert.True(t, cookie.AuthTokenExpires())

	anon := AnonymousCredentials()
	assert.Empty(t, anon.Username())
	assert.Empty(t, anon.AuthToken())
	assert.False(t, anon.AuthTokenExpires())
}

func TestBearerCredentialsSetHeader(t *testing.T) {
	c := newTestClient(t, "https://server.example")
	c.SetCredentials(NewBearerCredentials("alice", "tok123"))
	st := prepared(c)
	assert.Equal(t, "Bearer tok123", st.authorization)
}
