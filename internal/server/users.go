package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/incogni23/collab-realtime-sdk/sdk/chat"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

type account struct {
	user chat.User
	hash []byte
}

// Directory is the in-memory user table.
type Directory struct {
	mu      sync.RWMutex
	cost    int
	byEmail map[string]*account
	byID    map[string]*account
}

func NewDirectory(cost int) *Directory {
	return &Directory{
		cost:    cost,
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
	}
}

// Register creates a user. Emails are case-insensitive and unique.
func (d *Directory) Register(email, username, password, firstName, lastName string) (chat.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return chat.User{}, errors.Wrap(err, "hash password")
	}

	key := strings.ToLower(strings.TrimSpace(email))
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[key]; ok {
		return chat.User{}, ErrUserExists
	}

	a := &account{
		user: chat.User{
			ID:        uuid.NewString(),
			Email:     key,
			Username:  username,
			FirstName: firstName,
			LastName:  lastName,
			CreatedAt: now,
			UpdatedAt: now,
		},
		hash: hash,
	}
	d.byEmail[key] = a
	d.byID[a.user.ID] = a
	return a.user, nil
}

// Authenticate checks a password. Unknown emails and wrong passwords fail
// the same way.
func (d *Directory) Authenticate(email, password string) (chat.User, error) {
	d.mu.RLock()
	a, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	d.mu.RUnlock()
	if !ok {
		return chat.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return chat.User{}, ErrInvalidCredentials
	}
	return a.user, nil
}

func (d *Directory) Get(id string) (chat.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	if !ok {
		return chat.User{}, false
	}
	return a.user, true
}

// SetOnline records presence.
func (d *Directory) SetOnline(id string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byID[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	a.user.IsOnline = online
	a.user.LastSeen = &now
}
