package occlient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount(name, base string) *Account {
	return &Account{Name: name, Username: "alice", BaseURL: base}
}

func storeWithBasic(names ...string) *MemoryAccountStore {
	store := NewMemoryAccountStore()
	for _, n := range names {
		store.SetCredentials(n, NewBasicCredentials("alice", "secret"))
	}
	return store
}

func TestSingleSessionManagerReusesClientPerAccount(t *testing.T) {
	account := testAccount("alice@server", "https://server.example")
	m := NewSingleSessionManager(storeWithBasic(account.Name), nil)

	c1, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
}

func TestSingleSessionManagerDistinctAccountsDistinctClients(t *testing.T) {
	a1 := testAccount("alice@one", "https://one.example")
	a2 := testAccount("alice@two", "https://two.example")
	m := NewSingleSessionManager(storeWithBasic(a1.Name, a2.Name), nil)

	c1, err := m.ClientFor(context.Background(), a1)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), a2)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
}

func TestSingleSessionManagerRemoveClientFor(t *testing.T) {
	account := testAccount("alice@server", "https://server.example")
	m := NewSingleSessionManager(storeWithBasic(account.Name), nil)

	c1, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)

	removed := m.RemoveClientFor(account)
	assert.Same(t, c1, removed)

	c2, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2, "a removed client must never be handed out again")

	assert.Nil(t, m.RemoveClientFor(testAccount("nobody@server", "https://server.example")))
}

func TestSessionClientPromotedWhenNameBecomesKnown(t *testing.T) {
	base := "https://server.example"
	store := storeWithBasic("", "alice@server")
	store.SetCredentials("", NewBasicCredentials("alice", "secret"))
	m := NewSingleSessionManager(store, nil)

	unnamed := &Account{Name: "", Username: "alice", BaseURL: base}
	c1, err := m.ClientFor(context.Background(), unnamed)
	require.NoError(t, err)

	named := testAccount("alice@server", base)
	c2, err := m.ClientFor(context.Background(), named)
	require.NoError(t, err)

	assert.Same(t, c1, c2, "session client must move into the named map, not be rebuilt")

	m.mu.Lock()
	assert.Empty(t, m.byKey, "promotion must clear the session-key entry")
	assert.Same(t, c1, m.byName[named.Name])
	m.mu.Unlock()
}

func TestSessionClientReusedBeforeNameIsKnown(t *testing.T) {
	base := "https://server.example"
	store := storeWithBasic("")
	m := NewSingleSessionManager(store, nil)

	unnamed := &Account{Name: "", Username: "alice", BaseURL: base}
	c1, err := m.ClientFor(context.Background(), unnamed)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), unnamed)
	require.NoError(t, err)

	assert.Same(t, c1, c2, "same base URL and token must reuse the session client")

	m.mu.Lock()
	assert.Len(t, m.byKey, 1, "repeat lookups must not grow the session-key map")
	assert.Empty(t, m.byName)
	m.mu.Unlock()
}

func TestRemoveClientForFlushesUnknownNameMap(t *testing.T) {
	base := "https://server.example"
	store := storeWithBasic("", "alice@server")
	m := NewSingleSessionManager(store, nil)

	unnamed := &Account{Name: "", Username: "alice", BaseURL: base}
	_, err := m.ClientFor(context.Background(), unnamed)
	require.NoError(t, err)

	m.RemoveClientFor(testAccount("alice@server", base))

	m.mu.Lock()
	assert.Empty(t, m.byKey)
	m.mu.Unlock()
}

func TestSingleSessionManagerRefreshesReusedClientInPlace(t *testing.T) {
	account := testAccount("alice@server", "https://server.example")
	store := storeWithBasic(account.Name)
	m := NewSingleSessionManager(store, nil)

	c1, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, "secret", c1.Credentials().AuthToken())

	// Credentials change externally, e.g. the user rotated the password.
	store.SetCredentials(account.Name, NewBasicCredentials("alice", "rotated"))

	c2, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, "rotated", c2.Credentials().AuthToken())
}

func TestSingleSessionManagerConcurrentAccess(t *testing.T) {
	account := testAccount("alice@server", "https://server.example")
	m := NewSingleSessionManager(storeWithBasic(account.Name), nil)

	clients := make([]*Client, 16)
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.ClientFor(context.Background(), account)
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range clients[1:] {
		assert.Same(t, clients[0], c, "concurrent lookups must converge on one client")
	}
}

func TestSimpleFactoryManagerAlwaysBuildsFresh(t *testing.T) {
	account := testAccount("alice@server", "https://server.example")
	m := NewSimpleFactoryManager(storeWithBasic(account.Name), nil)

	c1, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.Nil(t, m.RemoveClientFor(account))
}

func TestManagersFallBackToAnonymousForUnknownAccounts(t *testing.T) {
	account := testAccount("stranger@server", "https://server.example")
	m := NewSingleSessionManager(NewMemoryAccountStore(), nil)

	c, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	assert.Empty(t, c.Credentials().AuthToken())
}

func TestDynamicSessionManagerPicksPolicyBySavedVersion(t *testing.T) {
	modern := testAccount("alice@modern", "https://modern.example")
	legacy := testAccount("alice@legacy", "https://legacy.example")

	store := storeWithBasic(modern.Name, legacy.Name)
	v10, err := ParseServerVersion("10.0.2")
	require.NoError(t, err)
	v7, err := ParseServerVersion("7.0.15")
	require.NoError(t, err)
	store.SetServerVersion(modern.Name, v10)
	store.SetServerVersion(legacy.Name, v7)

	m := NewDynamicSessionManager(store, nil)

	c1, err := m.ClientFor(context.Background(), modern)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), modern)
	require.NoError(t, err)
	assert.Same(t, c1, c2, "session-monitoring servers get the pooled policy")

	c3, err := m.ClientFor(context.Background(), legacy)
	require.NoError(t, err)
	c4, err := m.ClientFor(context.Background(), legacy)
	require.NoError(t, err)
	assert.NotSame(t, c3, c4, "legacy servers get a fresh client per call")
}

func TestDynamicSessionManagerProbesUnknownServers(t *testing.T) {
	var probes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, statusPath, r.URL.Path)
		probes++
		fmt.Fprint(w, `{"installed":true,"maintenance":false,"version":"10.0.2.1","versionstring":"10.0.2"}`)
	}))
	defer srv.Close()

	account := testAccount("alice@probed", srv.URL)
	m := NewDynamicSessionManager(storeWithBasic(account.Name), nil)

	c1, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)
	c2, err := m.ClientFor(context.Background(), account)
	require.NoError(t, err)

	assert.Same(t, c1, c2, "probed 10.x server must use the pooled policy")
	assert.Equal(t, 1, probes, "probe answer must be cached")
}
