// Package memory keeps users and refresh tokens in process memory. It backs
// the server when no database is configured and the service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
)

// Store is the shared state behind UserRepository and RefreshTokenRepository.
//
// mu guards the maps for single operations. txMu is held for the whole of a
// WithTx call, so transactions run one at a time and a failed one is undone
// by restoring the snapshot taken on entry.
type Store struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for created/updated stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

type snapshot struct {
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		users:  make(map[string]*models.User, len(s.users)),
		tokens: make(map[string]*models.RefreshToken, len(s.tokens)),
	}
	for k, u := range s.users {
		snap.users[k] = copyUser(u)
	}
	for k, t := range s.tokens {
		c := *t
		snap.tokens[k] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.tokens = snap.tokens
}

// WithTx runs fn with a nil DBTX; the memory repositories ignore it.
func (s *Store) WithTx(ctx context.Context, fn dbx.TxFunc) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, nil)
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}
