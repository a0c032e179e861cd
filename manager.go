// Package occlient - Client pooling policies
//
// This file provides the three policies for handing out clients per
// account. The always-new policy builds a fresh client on every request.
// The single-session policy keeps one client per account so an established
// server session (and its cookies) is reused across operations; clients for
// accounts whose name is not resolved yet are tracked under an opaque
// session key and promoted once the name becomes known. The dynamic policy
// picks between the two per call, depending on whether the target server is
// known to support session monitoring.
package occlient

import (
	"context"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ClientPool hands out and retires clients keyed by account.
type ClientPool interface {
	// ClientFor returns a client ready to act for the account, with
	// credentials loaded from the account store. Depending on the policy
	// the client may be shared with earlier calls for the same account.
	ClientFor(ctx context.Context, account *Account) (*Client, error)

	// RemoveClientFor takes the account's client out of circulation and
	// returns it, or nil when none was pooled.
	RemoveClientFor(account *Account) *Client
}

// SimpleFactoryManager is the always-new policy: every call constructs a
// fresh client, nothing is reused and nothing is tracked.
type SimpleFactoryManager struct {
	store AccountStore
	opts  *Options
	log   logrus.FieldLogger
}

// NewSimpleFactoryManager returns an always-new pool backed by the given
// account store. Pass nil opts for defaults.
func NewSimpleFactoryManager(store AccountStore, opts *Options) *SimpleFactoryManager {
	opts = opts.withDefaults()
	return &SimpleFactoryManager{store: store, opts: opts, log: opts.Logger}
}

// ClientFor implements ClientPool.
func (m *SimpleFactoryManager) ClientFor(ctx context.Context, account *Account) (*Client, error) {
	m.log.WithField("account", account.Name).Debug("building fresh client")
	return buildClient(ctx, account, m.store, m.opts, nil)
}

// RemoveClientFor implements ClientPool. The always-new policy keeps no
// bookkeeping, so there is never anything to remove.
func (m *SimpleFactoryManager) RemoveClientFor(account *Account) *Client {
	return nil
}

// SingleSessionManager is the one-client-per-account policy. Clients for
// accounts with a resolved name live in a by-name map; clients created
// before the name is known live in a by-session-key map until promotion.
// At most one client is associated with a given account name at any time.
type SingleSessionManager struct {
	store AccountStore
	opts  *Options
	log   logrus.FieldLogger

	mu     sync.Mutex
	byName map[string]*Client
	byKey  map[string]*Client
}

// NewSingleSessionManager returns a session-reusing pool backed by the
// given account store. Pass nil opts for defaults.
func NewSingleSessionManager(store AccountStore, opts *Options) *SingleSessionManager {
	opts = opts.withDefaults()
	return &SingleSessionManager{
		store:  store,
		opts:   opts,
		log:    opts.Logger,
		byName: make(map[string]*Client),
		byKey:  make(map[string]*Client),
	}
}

// ClientFor implements ClientPool. The lookup order is: by account name,
// then by session key with promotion into the named map, then construction
// of a new client. Reused clients are refreshed in place because the
// account's stored credentials or base URL may have changed externally.
func (m *SingleSessionManager) ClientFor(ctx context.Context, account *Account) (*Client, error) {
	creds, err := m.store.CredentialsFor(ctx, account)
	if err != nil {
		if !isCause(err, ErrAccountNotFound) {
			return nil, err
		}
		creds = AnonymousCredentials()
	}
	key := sessionKey(account.BaseURL, creds.AuthToken())

	m.mu.Lock()
	c := m.byName[account.Name]
	if c == nil {
		if kc, ok := m.byKey[key]; ok {
			c = kc
			if account.Name != "" {
				// The session was established before the account had a
				// name; ownership moves to the named map.
				delete(m.byKey, key)
				m.byName[account.Name] = kc
				m.log.WithField("account", account.Name).Debug("promoted session client to named map")
			}
		}
	}
	m.mu.Unlock()

	if c != nil {
		m.refreshInPlace(c, account, creds)
		return c, nil
	}

	c, err = buildClientWithCredentials(account, m.store, m.opts, m, creds)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if account.Name != "" {
		// A concurrent call may have registered a client meanwhile; the
		// named-map invariant wins over the one we just built.
		if existing, ok := m.byName[account.Name]; ok {
			m.mu.Unlock()
			m.refreshInPlace(existing, account, creds)
			return existing, nil
		}
		m.byName[account.Name] = c
	} else {
		if existing, ok := m.byKey[key]; ok {
			m.mu.Unlock()
			m.refreshInPlace(existing, account, creds)
			return existing, nil
		}
		m.byKey[key] = c
	}
	m.mu.Unlock()
	return c, nil
}

// refreshInPlace brings a reused client in step with the account's current
// stored state.
func (m *SingleSessionManager) refreshInPlace(c *Client, account *Account, creds Credentials) {
	if c.Credentials().AuthToken() != creds.AuthToken() {
		c.SetCredentials(creds)
	}
	if c.BaseURL().String() != account.BaseURL {
		if err := c.SetBaseURL(account.BaseURL); err != nil {
			m.log.WithError(err).WithField("account", account.Name).
				Warn("could not update pooled client base url")
		}
	}
}

// RemoveClientFor implements ClientPool. Besides dropping the named entry
// it clears the whole unknown-name map: a removed account may have been
// living there under a session key computed from state that no longer
// exists.
func (m *SingleSessionManager) RemoveClientFor(account *Account) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byName[account.Name]
	if ok {
		delete(m.byName, account.Name)
	}
	if len(m.byKey) > 0 {
		m.byKey = make(map[string]*Client)
	}
	if !ok {
		return nil
	}
	c.owner = nil
	return c
}

// evict removes every pool entry pointing at the client. Clients call this
// on themselves when a 401 could not be healed by a credential refresh.
func (m *SingleSessionManager) evict(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, pc := range m.byName {
		if pc == c {
			delete(m.byName, name)
		}
	}
	for key, pc := range m.byKey {
		if pc == c {
			delete(m.byKey, key)
		}
	}
	c.owner = nil
}

// statusProbeTTL bounds how long a dynamic manager trusts one status-probe
// answer for a server.
const statusProbeTTL = 5 * time.Minute

// DynamicSessionManager picks the pooling policy per call: servers known to
// support session monitoring get the single-session policy, everything else
// gets a fresh client per call. When the account store has no saved server
// version, the server is probed once and the answer cached with a TTL.
type DynamicSessionManager struct {
	store   AccountStore
	single  *SingleSessionManager
	factory *SimpleFactoryManager
	log     logrus.FieldLogger

	probes *cache.Cache
}

// NewDynamicSessionManager returns a policy-choosing pool backed by the
// given account store. Pass nil opts for defaults.
func NewDynamicSessionManager(store AccountStore, opts *Options) *DynamicSessionManager {
	opts = opts.withDefaults()
	return &DynamicSessionManager{
		store:   store,
		single:  NewSingleSessionManager(store, opts),
		factory: NewSimpleFactoryManager(store, opts),
		log:     opts.Logger,
		probes:  cache.New(statusProbeTTL, 2*statusProbeTTL),
	}
}

// ClientFor implements ClientPool.
func (m *DynamicSessionManager) ClientFor(ctx context.Context, account *Account) (*Client, error) {
	if m.serverVersion(ctx, account).SupportsSessionMonitoring() {
		return m.single.ClientFor(ctx, account)
	}
	return m.factory.ClientFor(ctx, account)
}

// RemoveClientFor implements ClientPool. Only the single-session policy
// tracks clients, so removal delegates there.
func (m *DynamicSessionManager) RemoveClientFor(account *Account) *Client {
	return m.single.RemoveClientFor(account)
}

// serverVersion resolves the server version for the account: saved version
// first, then a cached status probe, then a live probe against the server.
func (m *DynamicSessionManager) serverVersion(ctx context.Context, account *Account) ServerVersion {
	if v, ok := m.store.ServerVersionFor(ctx, account); ok {
		return v
	}
	if v, ok := m.probes.Get(account.BaseURL); ok {
		return v.(ServerVersion)
	}

	v := m.probeServer(ctx, account)
	m.probes.Set(account.BaseURL, v, cache.DefaultExpiration)
	return v
}

func (m *DynamicSessionManager) probeServer(ctx context.Context, account *Account) ServerVersion {
	c, err := m.factory.ClientFor(ctx, account)
	if err != nil {
		m.log.WithError(err).WithField("server", account.BaseURL).
			Debug("status probe client construction failed")
		return ServerVersion{}
	}
	res := NewGetStatusOperation().Run(ctx, c)
	if !res.IsSuccess() {
		m.log.WithField("server", account.BaseURL).WithField("result", res.LogMessage()).
			Debug("status probe failed")
		return ServerVersion{}
	}
	status := res.Data().(*ServerStatus)
	v, err := ParseServerVersion(status.Version)
	if err != nil {
		return ServerVersion{}
	}
	return v
}

// buildClient constructs a client for the account with credentials loaded
// from the store. A missing account falls back to anonymous credentials.
func buildClient(ctx context.Context, account *Account, store AccountStore, opts *Options, owner pool) (*Client, error) {
	creds, err := store.CredentialsFor(ctx, account)
	if err != nil {
		if !isCause(err, ErrAccountNotFound) {
			return nil, err
		}
		creds = AnonymousCredentials()
	}
	return buildClientWithCredentials(account, store, opts, owner, creds)
}

func buildClientWithCredentials(account *Account, store AccountStore, opts *Options, owner pool, creds Credentials) (*Client, error) {
	c, err := NewClient(account.BaseURL, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "build client for %q", account.Name)
	}
	c.SetAccount(account, store)
	c.SetCredentials(creds)
	c.owner = owner
	return c, nil
}
