package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type grant struct {
	userID  string
	pair    string
	expires time.Time
}

// Tokens issues opaque access/refresh token pairs. Refresh tokens are single
// use: Rotate invalidates the old pair.
type Tokens struct {
	mu         sync.Mutex
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	access     map[string]grant
	refresh    map[string]grant
}

func NewTokens(accessTTL, refreshTTL time.Duration) *Tokens {
	return &Tokens{
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		access:     make(map[string]grant),
		refresh:    make(map[string]grant),
	}
}

func (t *Tokens) Issue(userID string) (accessToken, refreshToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issueLocked(userID)
}

// Authenticate resolves a live access token to its user.
func (t *Tokens) Authenticate(accessToken string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.access[accessToken]
	if !ok {
		return "", false
	}
	if t.now().After(g.expires) {
		delete(t.access, accessToken)
		return "", false
	}
	return g.userID, true
}

// Rotate trades a live refresh token for a new pair.
func (t *Tokens) Rotate(refreshToken string) (userID, accessToken, newRefresh string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, found := t.refresh[refreshToken]
	if !found {
		return "", "", "", false
	}
	delete(t.refresh, refreshToken)
	delete(t.access, g.pair)
	if t.now().After(g.expires) {
		return "", "", "", false
	}

	accessToken, newRefresh = t.issueLocked(g.userID)
	return g.userID, accessToken, newRefresh, true
}

// Revoke drops an access token and the refresh token issued with it.
func (t *Tokens) Revoke(accessToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if g, ok := t.access[accessToken]; ok {
		delete(t.refresh, g.pair)
		delete(t.access, accessToken)
	}
}

// Expire drops an access token but keeps its refresh token usable, as if the
// access token had timed out.
func (t *Tokens) Expire(accessToken string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.access, accessToken)
}

func (t *Tokens) issueLocked(userID string) (string, string) {
	now := t.now()
	accessToken := uuid.NewString()
	refreshToken := uuid.NewString()
	t.access[accessToken] = grant{userID: userID, pair: refreshToken, expires: now.Add(t.accessTTL)}
	t.refresh[refreshToken] = grant{userID: userID, pair: accessToken, expires: now.Add(t.refreshTTL)}
	return accessToken, refreshToken
}
