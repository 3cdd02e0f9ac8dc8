package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/tokencache"
)

var errBoom = errors.New("boom")

// --- clock ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- ids ---

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// --- logger ---

type logEntry struct {
	level string
	msg   string
	args  map[string]any
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	fields  []any
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := append(append([]any{}, l.fields...), args...)
	m := map[string]any{}
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			m[k] = all[i+1]
		}
	}
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, args: m})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, args ...any) {
	l.record("debug", msg, args)
}
func (l *recordingLogger) Info(_ context.Context, msg string, args ...any) {
	l.record("info", msg, args)
}
func (l *recordingLogger) Warn(_ context.Context, msg string, args ...any) {
	l.record("warn", msg, args)
}
func (l *recordingLogger) Error(_ context.Context, msg string, args ...any) {
	l.record("error", msg, args)
}

func (l *recordingLogger) With(args ...any) logging.Logger {
	return &recordingLogger{mu: l.mu, entries: l.entries, fields: append(append([]any{}, l.fields...), args...)}
}

func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range *l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// --- repository managers ---

// stubManager serves one repository both outside and inside transactions.
type stubManager struct {
	repo refreshtokens.Repository
}

func (m *stubManager) RunMigrations(context.Context) error     { return nil }
func (m *stubManager) RefreshTokens() refreshtokens.Repository { return m.repo }
func (m *stubManager) Close() error                            { return nil }
func (m *stubManager) WithTx(ctx context.Context, fn repomanager.TxFunc) error {
	return fn(ctx, m.repo)
}

// failingRepo fails every call it overrides.
type failingRepo struct {
	refreshtokens.Repository
}

func (failingRepo) Insert(context.Context, *models.RefreshToken) error { return errBoom }
func (failingRepo) FindByTokenIDAndUser(context.Context, string, int64) (*models.RefreshToken, error) {
	return nil, errBoom
}
func (failingRepo) FindByFamilyAndUser(context.Context, string, int64) ([]models.RefreshToken, error) {
	return nil, errBoom
}
func (failingRepo) MarkRevoked(context.Context, string, int64) error       { return errBoom }
func (failingRepo) MarkFamilyRevoked(context.Context, string, int64) error { return errBoom }
func (failingRepo) MarkAllUserRevoked(context.Context, int64) error        { return errBoom }

// racingRepo lets another writer revoke the token between the
// re-validation and the conditional revoke of a rotation.
type racingRepo struct {
	refreshtokens.Repository
}

func (r racingRepo) RevokeIfActive(ctx context.Context, tokenID string, userID int64) (bool, error) {
	if err := r.Repository.MarkRevoked(ctx, tokenID, userID); err != nil {
		return false, err
	}
	return r.Repository.RevokeIfActive(ctx, tokenID, userID)
}

// --- service constructors ---

func newTestFamilies(t *testing.T, m repomanager.RepositoryManager, cache tokencache.Cache, clock *testClock) *FamilyService {
	t.Helper()
	s := NewFamilyService(m, cache, logging.Nop{})
	s.now = clock.Now
	s.newID = sequentialIDs("F")
	return s
}
