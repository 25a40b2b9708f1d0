package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedauth/internal/common"
	"github.com/dmitrijs2005/feedauth/internal/cryptox"
	"github.com/dmitrijs2005/feedauth/internal/dbx"
	"github.com/dmitrijs2005/feedauth/internal/server/auth"
	"github.com/dmitrijs2005/feedauth/internal/server/models"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/feedauth/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

var testParams = cryptox.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *AuthService
	rm    *repomanager.InMemoryRepositoryManager
	codec *auth.Codec
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the in-memory manager.
func newFixtureWith(t *testing.T, wrap func(repomanager.RepositoryManager) repomanager.RepositoryManager) *fixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec("access-secret", "refresh-secret", auth.WithClock(clock.Now))
	require.NoError(t, err)

	rm := repomanager.NewInMemoryRepositoryManager()
	rm.Store().SetClock(clock.Now)

	var m repomanager.RepositoryManager = rm
	if wrap != nil {
		m = wrap(rm)
	}

	svc := NewAuthService(m, codec, WithHashParams(testParams), WithClock(clock.Now))
	return &fixture{svc: svc, rm: rm, codec: codec, clock: clock}
}

func (f *fixture) register(t *testing.T, username, email string) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: "Secret1!"})
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, email string) *Session {
	t.Helper()
	s, err := f.svc.Login(context.Background(), email, "Secret1!", models.Device{UserAgent: "test", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	return s
}

// flakyManager makes the first failCreates ledger inserts report a
// duplicate token.
type flakyManager struct {
	repomanager.RepositoryManager

	mu          sync.Mutex
	failCreates int
	creates     int
}

func (m *flakyManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return &flakyLedger{Repository: m.RepositoryManager.RefreshTokens(db), m: m}
}

type flakyLedger struct {
	refreshtokens.Repository
	m *flakyManager
}

func (l *flakyLedger) Create(ctx context.Context, t *models.RefreshToken) error {
	l.m.mu.Lock()
	l.m.creates++
	fail := l.m.creates <= l.m.failCreates
	l.m.mu.Unlock()
	if fail {
		return common.ErrDuplicateToken
	}
	return l.Repository.Create(ctx, t)
}

// brokenManager fails every transaction.
type brokenManager struct {
	repomanager.RepositoryManager
}

var errStorage = errors.New("connection reset by peer")

func (brokenManager) WithTx(context.Context, dbx.TxFunc) error {
	return errStorage
}
