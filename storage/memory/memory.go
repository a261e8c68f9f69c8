// Package memory provides an in-memory implementation of every storage
// contract. It backs tests and single-process deployments; anything that
// needs durability or horizontal scaling should use redisstore or a
// database-backed implementation instead.
package memory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/ggoodman/tenantauth/storage"
)

// Users is an in-memory UserStore. Passwords are stored as bcrypt hashes.
type Users struct {
	mu      sync.RWMutex
	byID    map[string]*storage.User
	byIdent map[string]*storage.User
	hashes  map[string][]byte // identifier -> bcrypt hash
}

func NewUsers() *Users {
	return &Users{
		byID:    make(map[string]*storage.User),
		byIdent: make(map[string]*storage.User),
		hashes:  make(map[string][]byte),
	}
}

// Add registers a user with a plaintext password, hashing it with bcrypt.
func (s *Users) Add(u storage.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := u
	s.byID[u.ID] = &user
	s.byIdent[u.Identifier] = &user
	s.hashes[u.Identifier] = hash
	return nil
}

func (s *Users) ByID(ctx context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Users) ByIdentifier(ctx context.Context, identifier string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byIdent[identifier]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Users) VerifyCredentials(ctx context.Context, identifier, password string) (*storage.User, error) {
	s.mu.RLock()
	u, ok := s.byIdent[identifier]
	hash := s.hashes[identifier]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Clients is an in-memory ClientStore.
type Clients struct {
	mu   sync.RWMutex
	byID map[string]*storage.Client
}

func NewClients(clients ...storage.Client) *Clients {
	s := &Clients{byID: make(map[string]*storage.Client)}
	for _, c := range clients {
		cp := c
		s.byID[c.ID] = &cp
	}
	return s
}

func (s *Clients) Add(c storage.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.byID[c.ID] = &cp
}

func (s *Clients) ByID(ctx context.Context, id string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Keys is an in-memory SigningKeyStore. The first key added becomes the
// default unless SetDefault names another.
type Keys struct {
	mu        sync.RWMutex
	byID      map[string]*storage.SigningKey
	defaultID string
}

func NewKeys(keys ...storage.SigningKey) *Keys {
	s := &Keys{byID: make(map[string]*storage.SigningKey)}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s *Keys) Add(k storage.SigningKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := k
	s.byID[k.ID] = &cp
	if s.defaultID == "" {
		s.defaultID = k.ID
	}
}

func (s *Keys) SetDefault(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultID = id
}

func (s *Keys) ByID(ctx context.Context, id string) (*storage.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Keys) Default(ctx context.Context) (*storage.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[s.defaultID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Keys) All(ctx context.Context) ([]*storage.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.SigningKey, 0, len(s.byID))
	for _, k := range s.byID {
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

// RefreshTokens is an in-memory RefreshTokenStore. The mutex serializes
// per-token access so Revoke is a true check-and-set: of two concurrent
// revocations of one token, exactly one succeeds.
type RefreshTokens struct {
	mu      sync.Mutex
	byToken map[string]*storage.RefreshToken
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{byToken: make(map[string]*storage.RefreshToken)}
}

func (s *RefreshTokens) ByToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byToken[token]
	if !ok || t.Revoked {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *RefreshTokens) Create(ctx context.Context, t *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byToken[t.Token]; exists {
		return fmt.Errorf("memory: refresh token already exists")
	}
	cp := *t
	s.byToken[t.Token] = &cp
	return nil
}

func (s *RefreshTokens) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byToken[token]
	if !ok || t.Revoked {
		return storage.ErrNotFound
	}
	t.Revoked = true
	return nil
}

// Codes is an in-memory AuthorizationCodeStore with single-use consume.
type Codes struct {
	mu     sync.Mutex
	byCode map[string]*storage.AuthorizationCode
}

func NewCodes() *Codes {
	return &Codes{byCode: make(map[string]*storage.AuthorizationCode)}
}

func (s *Codes) Create(ctx context.Context, c *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCode[c.Code]; exists {
		return fmt.Errorf("memory: authorization code already exists")
	}
	cp := *c
	s.byCode[c.Code] = &cp
	return nil
}

func (s *Codes) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byCode[code]
	if !ok || c.Used {
		return nil, storage.ErrNotFound
	}
	c.Used = true
	cp := *c
	return &cp, nil
}

// Scopes is a static ScopeProvider configured at construction.
type Scopes struct {
	Available []string
	// PerClient maps client id -> scopes the client may request. A client
	// absent from the map may request nothing.
	PerClient map[string][]string
	// Defaults maps client id -> scopes granted when a request names none.
	Defaults map[string][]string
}

func (s *Scopes) AvailableScopes(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.Available...), nil
}

func (s *Scopes) ScopeExists(ctx context.Context, scope string) (bool, error) {
	for _, a := range s.Available {
		if a == scope {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scopes) ScopesForClient(ctx context.Context, clientID string) ([]string, error) {
	return append([]string(nil), s.PerClient[clientID]...), nil
}

func (s *Scopes) DefaultScopesForClient(ctx context.Context, clientID string) ([]string, error) {
	return append([]string(nil), s.Defaults[clientID]...), nil
}

// Bundle assembles a complete in-memory storage bundle.
func Bundle(users *Users, clients *Clients, keys *Keys, scopes *Scopes) storage.Bundle {
	return storage.Bundle{
		Users:         users,
		Clients:       clients,
		Keys:          keys,
		RefreshTokens: NewRefreshTokens(),
		Codes:         NewCodes(),
		Scopes:        scopes,
	}
}
