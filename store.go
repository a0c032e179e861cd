// Package occlient - Account store collaborators
//
// The account store owns the saved state of every account: credentials,
// session cookies and the last known server version. The client and the
// pooling managers read and write through this interface but never own the
// storage themselves. Two implementations ship with the library: an
// in-memory store for tests and simple programs, and an OAuth2-backed store
// that mints fresh bearer tokens from a token source whenever the saved
// token has been invalidated.
package occlient

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// AccountStore supplies and receives saved per-account state.
type AccountStore interface {
	// CredentialsFor loads the current credentials for the account.
	// Returns ErrAccountNotFound when the store knows nothing about it.
	CredentialsFor(ctx context.Context, account *Account) (Credentials, error)

	// InvalidateToken marks the saved auth token and password as no longer
	// valid, so the next CredentialsFor returns fresh ones where the
	// credential type allows it.
	InvalidateToken(ctx context.Context, account *Account) error

	// SaveCookies persists server-set session cookies for the account.
	SaveCookies(ctx context.Context, account *Account, cookies []*http.Cookie) error

	// ServerVersionFor returns the saved server version for the account
	// and whether one is known.
	ServerVersionFor(ctx context.Context, account *Account) (ServerVersion, bool)
}

type memoryAccountState struct {
	creds       Credentials
	invalidated bool
	cookies     []*http.Cookie
	version     ServerVersion
	hasVersion  bool
}

// MemoryAccountStore is a thread-safe in-memory AccountStore. A RefreshFunc
// can be installed to model token refresh: after InvalidateToken, the next
// CredentialsFor for that account calls it to mint replacement credentials.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*memoryAccountState

	// RefreshFunc, when set, supplies replacement credentials for an
	// account whose token was invalidated. When nil, invalidated accounts
	// keep returning their stored credentials.
	RefreshFunc func(ctx context.Context, account *Account) (Credentials, error)
}

// NewMemoryAccountStore returns an empty in-memory store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*memoryAccountState)}
}

func (s *MemoryAccountStore) state(name string) *memoryAccountState {
	st, ok := s.accounts[name]
	if !ok {
		st = &memoryAccountState{}
		s.accounts[name] = st
	}
	return st
}

// SetCredentials saves credentials for the named account, clearing any
// pending invalidation.
func (s *MemoryAccountStore) SetCredentials(name string, creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(name)
	st.creds = creds
	st.invalidated = false
}

// SetServerVersion saves the known server version for the named account.
func (s *MemoryAccountStore) SetServerVersion(name string, v ServerVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(name)
	st.version = v
	st.hasVersion = true
}

// Cookies returns the session cookies last saved for the named account.
func (s *MemoryAccountStore) Cookies(name string) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[name]; ok {
		return st.cookies
	}
	return nil
}

// CredentialsFor implements AccountStore.
func (s *MemoryAccountStore) CredentialsFor(ctx context.Context, account *Account) (Credentials, error) {
	s.mu.Lock()
	st, ok := s.accounts[account.Name]
	var creds Credentials
	var needsRefresh bool
	if ok {
		creds = st.creds
		needsRefresh = st.invalidated && s.RefreshFunc != nil
	}
	s.mu.Unlock()

	if !ok {
		return nil, errors.Wrap(ErrAccountNotFound, account.Name)
	}

	if needsRefresh {
		fresh, err := s.RefreshFunc(ctx, account)
		if err != nil {
			return nil, &OperationError{Op: "refresh credentials", Account: account.Name, Err: err}
		}
		s.SetCredentials(account.Name, fresh)
		return fresh, nil
	}

	if creds == nil {
		return AnonymousCredentials(), nil
	}
	return creds, nil
}

// InvalidateToken implements AccountStore.
func (s *MemoryAccountStore) InvalidateToken(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[account.Name]
	if !ok {
		return errors.Wrap(ErrAccountNotFound, account.Name)
	}
	st.invalidated = true
	return nil
}

// SaveCookies implements AccountStore.
func (s *MemoryAccountStore) SaveCookies(ctx context.Context, account *Account, cookies []*http.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(account.Name).cookies = cookies
	return nil
}

// ServerVersionFor implements AccountStore.
func (s *MemoryAccountStore) ServerVersionFor(ctx context.Context, account *Account) (ServerVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[account.Name]; ok && st.hasVersion {
		return st.version, true
	}
	return ServerVersion{}, false
}

type oauthAccountState struct {
	source  oauth2.TokenSource
	current oauth2.TokenSource
	version ServerVersion
	hasVer  bool
	cookies []*http.Cookie
}

// OAuthAccountStore is an AccountStore whose credentials are bearer tokens
// minted from per-account OAuth2 token sources. Tokens are cached through
// oauth2.ReuseTokenSource; InvalidateToken drops the cache so the next load
// forces a refresh against the authorization server.
type OAuthAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*oauthAccountState
}

// NewOAuthAccountStore returns an empty OAuth2-backed store.
func NewOAuthAccountStore() *OAuthAccountStore {
	return &OAuthAccountStore{accounts: make(map[string]*oauthAccountState)}
}

// Register binds a token source to the account name. The source is
// typically oauth2.Config.TokenSource seeded with a saved refresh token.
func (s *OAuthAccountStore) Register(name string, source oauth2.TokenSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[name] = &oauthAccountState{
		source:  source,
		current: oauth2.ReuseTokenSource(nil, source),
	}
}

// CredentialsFor implements AccountStore: it returns bearer credentials
// carrying a currently valid access token, refreshing through the token
// source when the cached one expired or was invalidated.
func (s *OAuthAccountStore) CredentialsFor(ctx context.Context, account *Account) (Credentials, error) {
	s.mu.Lock()
	st, ok := s.accounts[account.Name]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrap(ErrAccountNotFound, account.Name)
	}
	if st.source == nil {
		return nil, errors.Wrap(ErrNoRefreshSource, account.Name)
	}

	tok, err := st.current.Token()
	if err != nil {
		return nil, &OperationError{Op: "mint access token", Account: account.Name, Err: err}
	}
	return NewBearerCredentials(account.Username, tok.AccessToken), nil
}

// InvalidateToken implements AccountStore by dropping the cached token, so
// the next CredentialsFor call hits the authorization server.
func (s *OAuthAccountStore) InvalidateToken(ctx context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.accounts[account.Name]
	if !ok {
		return errors.Wrap(ErrAccountNotFound, account.Name)
	}
	st.current = oauth2.ReuseTokenSource(nil, st.source)
	return nil
}

// SaveCookies implements AccountStore.
func (s *OAuthAccountStore) SaveCookies(ctx context.Context, account *Account, cookies []*http.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[account.Name]; ok {
		st.cookies = cookies
	}
	return nil
}

// SetServerVersion saves the known server version for the named account.
func (s *OAuthAccountStore) SetServerVersion(name string, v ServerVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[name]; ok {
		st.version = v
		st.hasVer = true
	}
}

// ServerVersionFor implements AccountStore.
func (s *OAuthAccountStore) ServerVersionFor(ctx context.Context, account *Account) (ServerVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.accounts[account.Name]; ok && st.hasVer {
		return st.version, true
	}
	return ServerVersion{}, false
}
