package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/wagate/internal/credentials"
	"github.com/iammorganparry/wagate/internal/gateway"
	"github.com/iammorganparry/wagate/internal/gateway/gatewaytest"
	"github.com/iammorganparry/wagate/internal/models"
	"github.com/iammorganparry/wagate/internal/sessions"
	"github.com/iammorganparry/wagate/internal/store"
)

const (
	waitTimeout = 5 * time.Second
	tick        = 5 * time.Millisecond
	owner       = "user-1"
)

type published struct {
	tenant  string
	name    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(tenantID, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{tenant: tenantID, name: name, payload: payload})
}

func (r *recorder) qrCodes(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if ev, ok := e.payload.(models.QRCodeEvent); ok && ev.SessionID == sessionID {
			out = append(out, ev.Code)
		}
	}
	return out
}

func (r *recorder) sawStatus(tenant, sessionID string, status models.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		ev, ok := e.payload.(models.SessionStatusEvent)
		if ok && e.tenant == tenant && ev.SessionID == sessionID && ev.Status == status {
			return true
		}
	}
	return false
}

// failingSaves wraps a credential store and fails Save for one session.
type failingSaves struct {
	CredentialStore
	sessionID string
}

func (f failingSaves) Save(sessionID string, blob json.RawMessage) error {
	if sessionID == f.sessionID {
		return errors.New("disk full")
	}
	return f.CredentialStore.Save(sessionID, blob)
}

// blockingSaves holds Save calls while armed until unblock is called.
type blockingSaves struct {
	CredentialStore
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSaves() *blockingSaves {
	return &blockingSaves{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingSaves) Save(sessionID string, blob json.RawMessage) error {
	if b.armed.Load() {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		<-b.release
	}
	return b.CredentialStore.Save(sessionID, blob)
}

func (b *blockingSaves) unblock() {
	b.once.Do(func() {
		b.armed.Store(false)
		close(b.release)
	})
}

type fixture struct {
	m      *Manager
	reg    *sessions.Registry
	files  *credentials.FileStore
	dialer *gatewaytest.Dialer
	pub    *recorder
}

func testConfig() Config {
	return Config{
		Backoff:      BackoffConfig{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2},
		MaxAttempts:  3,
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func setup(t *testing.T, cfg Config, wrap func(CredentialStore) CredentialStore) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := credentials.NewFileStore(filepath.Join(dir, "creds"))
	require.NoError(t, err)

	var creds CredentialStore = files
	if wrap != nil {
		creds = wrap(files)
	}

	f := &fixture{
		reg:    sessions.NewRegistry(db),
		files:  files,
		dialer: gatewaytest.NewDialer(),
		pub:    &recorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.m = New(f.reg, creds, f.dialer, f.pub, cfg, logger)
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) session(t *testing.T, id string) *models.Session {
	t.Helper()
	sess, err := f.reg.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	return sess
}

func (f *fixture) waitStatus(t *testing.T, id string, status models.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, err := f.reg.Get(context.Background(), id)
		return err == nil && sess != nil && sess.Status == status
	}, waitTimeout, tick, "session %s never reached %s", id, status)
}

func (f *fixture) nextConn(t *testing.T) *gatewaytest.Conn {
	t.Helper()
	c, ok := f.dialer.Next(waitTimeout)
	require.True(t, ok, "no connection was dialed")
	return c
}

// connect drives a fresh session through pairing to CONNECTED.
func (f *fixture) connect(t *testing.T, blob string) (*models.Session, *gatewaytest.Conn) {
	t.Helper()
	sess, err := f.m.StartSession(context.Background(), owner, StartOptions{Name: "Phone"})
	require.NoError(t, err)

	c := f.nextConn(t)
	c.Emit(gateway.PairingCodeIssued{Code: "code-1"})
	c.Emit(gateway.CredentialsChanged{Blob: json.RawMessage(blob)})
	c.Emit(gateway.Opened{})
	f.waitStatus(t, sess.ID, models.StatusConnected)
	return sess, c
}

func seed(t *testing.T, reg *sessions.Registry, id string, status models.Status, blob string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, reg.Create(ctx, &models.Session{ID: id, OwnerID: owner, Name: id}))
	switch {
	case status == models.StatusConnected:
		require.NoError(t, reg.MarkConnected(ctx, id, json.RawMessage(blob)))
	case blob != "":
		require.NoError(t, reg.SetCredentials(ctx, id, json.RawMessage(blob)))
		require.NoError(t, reg.UpdateStatus(ctx, id, status, ""))
	default:
		require.NoError(t, reg.UpdateStatus(ctx, id, status, ""))
	}
}

func TestStartSessionDefaults(t *testing.T) {
	f := setup(t, testConfig(), nil)

	sess, err := f.m.StartSession(context.Background(), "user-12345678", StartOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "Session user-...", sess.Name)
	assert.Equal(t, models.StatusInitializing, sess.Status)

	f.nextConn(t)
	assert.True(t, f.m.HasHandle(sess.ID))
}

func TestDefaultNameCutsOnRunes(t *testing.T) {
	name := defaultName("ünïcødé-owner")
	assert.Equal(t, "Session ünïcø...", name)
	assert.True(t, utf8.ValidString(name))
	assert.Equal(t, "Session ab...", defaultName("ab"))
}

func TestStartSessionValidation(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()

	_, err := f.m.StartSession(ctx, "  ", StartOptions{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ownerId", verr.Field)

	_, err = f.m.StartSession(ctx, owner, StartOptions{Name: strings.Repeat("x", maxNameLength+1)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	err = f.m.Start(ctx, "", owner, StartOptions{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sessionId", verr.Field)

	assert.Zero(t, f.dialer.TotalDials())
}

func TestStartUnknownOrForeignSession(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()
	seed(t, f.reg, "s1", models.StatusDisconnected, "")

	assert.ErrorIs(t, f.m.Start(ctx, "missing", owner, StartOptions{}), ErrSessionNotFound)
	assert.ErrorIs(t, f.m.Start(ctx, "s1", "someone-else", StartOptions{}), ErrSessionNotFound)

	_, err := f.m.GetSession(ctx, "s1", "someone-else")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, f.dialer.TotalDials())
}

func TestConcurrentStartDialsOnce(t *testing.T) {
	f := setup(t, testConfig(), nil)
	seed(t, f.reg, "s1", models.StatusDisconnected, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.m.Start(context.Background(), "s1", owner, StartOptions{}))
		}()
	}
	wg.Wait()

	f.nextConn(t)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.DialCount("s1"))
	assert.Equal(t, 1, f.m.HandleCount())
}

func TestStartIsIdempotentWhileConnected(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	require.NoError(t, f.m.Start(context.Background(), sess.ID, owner, StartOptions{}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, f.dialer.DialCount(sess.ID))
	assert.False(t, c.IsClosed())
	assert.Equal(t, models.StatusConnected, f.session(t, sess.ID).Status)
}

func TestPairingFlow(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()

	sess, err := f.m.StartSession(ctx, owner, StartOptions{Name: "Phone"})
	require.NoError(t, err)
	c := f.nextConn(t)
	assert.Nil(t, c.Creds)

	c.Emit(gateway.PairingCodeIssued{Code: "code-1"})
	f.waitStatus(t, sess.ID, models.StatusAwaitingPairing)
	require.Eventually(t, func() bool {
		code, ok := f.m.LatestPairingCode(sess.ID)
		return ok && code == "code-1"
	}, waitTimeout, tick)

	c.Emit(gateway.PairingCodeIssued{Code: "code-2"})
	require.Eventually(t, func() bool {
		return len(f.pub.qrCodes(sess.ID)) == 2
	}, waitTimeout, tick)
	assert.Equal(t, []string{"code-1", "code-2"}, f.pub.qrCodes(sess.ID))
	code, _ := f.m.LatestPairingCode(sess.ID)
	assert.Equal(t, "code-2", code)

	gotID, ownerCode, ok, err := f.m.LatestPairingCodeForOwner(ctx, owner)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sess.ID, gotID)
	assert.Equal(t, "code-2", ownerCode)

	c.Emit(gateway.CredentialsChanged{Blob: json.RawMessage(`{"key":"a"}`)})
	c.Emit(gateway.Opened{})
	f.waitStatus(t, sess.ID, models.StatusConnected)

	got := f.session(t, sess.ID)
	assert.JSONEq(t, `{"key":"a"}`, string(got.CredentialBlob))
	assert.True(t, f.pub.sawStatus(owner, sess.ID, models.StatusConnected))

	_, ok = f.m.LatestPairingCode(sess.ID)
	assert.False(t, ok)

	local, err := f.files.Load(sess.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"a"}`, string(local))
}

func TestCredentialRotationAfterOpen(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	c.Emit(gateway.CredentialsChanged{Blob: json.RawMessage(`{"key":"b"}`)})
	require.Eventually(t, func() bool {
		got, err := f.reg.Get(context.Background(), sess.ID)
		return err == nil && got != nil && string(got.CredentialBlob) == `{"key":"b"}`
	}, waitTimeout, tick)

	local, err := f.files.Load(sess.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"b"}`, string(local))
}

func TestOpenedBeforeCredentialsDefersRegistryWrite(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, err := f.m.StartSession(context.Background(), owner, StartOptions{})
	require.NoError(t, err)
	c := f.nextConn(t)

	c.Emit(gateway.Opened{})
	require.Eventually(t, func() bool {
		return f.pub.sawStatus(owner, sess.ID, models.StatusConnected)
	}, waitTimeout, tick)

	got := f.session(t, sess.ID)
	assert.NotEqual(t, models.StatusConnected, got.Status)
	assert.Nil(t, got.CredentialBlob)

	c.Emit(gateway.CredentialsChanged{Blob: json.RawMessage(`{"key":"late"}`)})
	f.waitStatus(t, sess.ID, models.StatusConnected)
	assert.JSONEq(t, `{"key":"late"}`, string(f.session(t, sess.ID).CredentialBlob))
}

func TestLoggedOutClearsCredentials(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	c.Emit(gateway.Closed{Reason: gateway.CloseLoggedOut})
	f.waitStatus(t, sess.ID, models.StatusDisconnected)

	got := f.session(t, sess.ID)
	assert.Nil(t, got.CredentialBlob)
	assert.Equal(t, msgLoggedOut, got.StatusMessage)

	_, err := f.files.Load(sess.ID)
	assert.ErrorIs(t, err, credentials.ErrNotFound)

	require.Eventually(t, func() bool { return !f.m.HasHandle(sess.ID) }, waitTimeout, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.DialCount(sess.ID))
	assert.True(t, f.pub.sawStatus(owner, sess.ID, models.StatusDisconnected))
}

func TestTransientCloseReconnectsWithStoredCredentials(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	c.Emit(gateway.Closed{Reason: gateway.CloseTransient, Err: errors.New("connection reset")})

	c2 := f.nextConn(t)
	assert.Equal(t, sess.ID, c2.SessionID)
	assert.JSONEq(t, `{"key":"a"}`, string(c2.Creds))

	// The blob survives the reconnect window.
	got := f.session(t, sess.ID)
	assert.JSONEq(t, `{"key":"a"}`, string(got.CredentialBlob))

	c2.Emit(gateway.Opened{})
	f.waitStatus(t, sess.ID, models.StatusConnected)
	assert.Equal(t, 2, f.dialer.DialCount(sess.ID))
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()
	seed(t, f.reg, "s1", models.StatusDisconnected, "")

	// One initial attempt plus MaxAttempts retries.
	f.dialer.FailNext("s1", 4)
	require.NoError(t, f.m.Start(ctx, "s1", owner, StartOptions{}))

	require.Eventually(t, func() bool {
		got, err := f.reg.Get(ctx, "s1")
		return err == nil && got.Status == models.StatusDisconnected && got.StatusMessage == msgAttemptsExceeded
	}, waitTimeout, tick)
	require.Eventually(t, func() bool { return !f.m.HasHandle("s1") }, waitTimeout, tick)
	assert.Zero(t, f.dialer.DialCount("s1"))

	// A manual start gets a fresh budget.
	require.NoError(t, f.m.Start(ctx, "s1", owner, StartOptions{}))
	c := f.nextConn(t)
	assert.Equal(t, "s1", c.SessionID)
}

func TestPairingTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PairingTimeout = 50 * time.Millisecond
	f := setup(t, cfg, nil)

	sess, err := f.m.StartSession(context.Background(), owner, StartOptions{})
	require.NoError(t, err)
	c := f.nextConn(t)
	c.Emit(gateway.PairingCodeIssued{Code: "code-1"})

	f.waitStatus(t, sess.ID, models.StatusDisconnected)
	assert.Equal(t, msgPairingTimeout, f.session(t, sess.ID).StatusMessage)
	require.Eventually(t, c.IsClosed, waitTimeout, tick)

	_, ok := f.m.LatestPairingCode(sess.ID)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return !f.m.HasHandle(sess.ID) }, waitTimeout, tick)
}

func TestForceStartDiscardsCredentials(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	require.NoError(t, f.m.Start(context.Background(), sess.ID, owner, StartOptions{Force: true}))

	c2 := f.nextConn(t)
	assert.True(t, c.IsClosed(), "previous connection must close before the next dial")
	assert.Nil(t, c2.Creds)

	got := f.session(t, sess.ID)
	assert.Equal(t, models.StatusInitializing, got.Status)
	assert.Nil(t, got.CredentialBlob)

	_, err := f.files.Load(sess.ID)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
	assert.Equal(t, 1, f.m.HandleCount())
}

func TestChainedForceStartsWaitForFirstConnection(t *testing.T) {
	saves := newBlockingSaves()
	f := setup(t, testConfig(), func(cs CredentialStore) CredentialStore {
		saves.CredentialStore = cs
		return saves
	})
	t.Cleanup(saves.unblock)
	ctx := context.Background()
	sess, c1 := f.connect(t, `{"key":"a"}`)

	// Hold the first runner inside a credential save with c1 open.
	saves.armed.Store(true)
	c1.Emit(gateway.CredentialsChanged{Blob: json.RawMessage(`{"key":"b"}`)})
	select {
	case <-saves.entered:
	case <-time.After(waitTimeout):
		t.Fatal("credential save never started")
	}

	require.NoError(t, f.m.Start(ctx, sess.ID, owner, StartOptions{Force: true}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.m.Start(ctx, sess.ID, owner, StartOptions{Force: true}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, f.dialer.DialCount(sess.ID), "dialed while the first connection was open")
	assert.False(t, c1.IsClosed())

	saves.unblock()

	c3 := f.nextConn(t)
	assert.True(t, c1.IsClosed())
	assert.Nil(t, c3.Creds)
	assert.Equal(t, 2, f.dialer.DialCount(sess.ID))
	assert.Equal(t, 1, f.m.HandleCount())

	_, err := f.files.Load(sess.ID)
	assert.ErrorIs(t, err, credentials.ErrNotFound)
	assert.Nil(t, f.session(t, sess.ID).CredentialBlob)
}

func TestPersistSession(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()

	seed(t, f.reg, "idle", models.StatusDisconnected, "")
	assert.ErrorIs(t, f.m.PersistSession(ctx, "idle", owner), ErrNotConnected)
	assert.ErrorIs(t, f.m.PersistSession(ctx, "idle", "someone-else"), ErrSessionNotFound)

	sess, err := f.m.StartSession(ctx, owner, StartOptions{})
	require.NoError(t, err)
	c := f.nextConn(t)
	c.Emit(gateway.PairingCodeIssued{Code: "code-1"})
	f.waitStatus(t, sess.ID, models.StatusAwaitingPairing)
	assert.ErrorIs(t, f.m.PersistSession(ctx, sess.ID, owner), ErrNotConnected)

	c.Emit(gateway.Opened{})
	require.Eventually(t, func() bool {
		return f.pub.sawStatus(owner, sess.ID, models.StatusConnected)
	}, waitTimeout, tick)

	var cerr *CredentialIOError
	require.ErrorAs(t, f.m.PersistSession(ctx, sess.ID, owner), &cerr)
	assert.Equal(t, "load", cerr.Op)

	require.NoError(t, f.files.Save(sess.ID, json.RawMessage(`{"key":"manual"}`)))
	require.NoError(t, f.m.PersistSession(ctx, sess.ID, owner))

	got := f.session(t, sess.ID)
	assert.Equal(t, models.StatusConnected, got.Status)
	assert.JSONEq(t, `{"key":"manual"}`, string(got.CredentialBlob))
}

func TestRestore(t *testing.T) {
	f := setup(t, testConfig(), nil)
	seed(t, f.reg, "a", models.StatusConnected, `{"key":"a"}`)
	seed(t, f.reg, "b", models.StatusAwaitingPairing, "")
	seed(t, f.reg, "c", models.StatusDisconnected, "")
	seed(t, f.reg, "d", models.StatusInitializing, "")

	res, err := f.m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Found: 2, Restored: 2}, res)

	require.Eventually(t, func() bool { return f.dialer.TotalDials() == 2 }, waitTimeout, tick)
	assert.Equal(t, 1, f.dialer.DialCount("a"))
	assert.Equal(t, 1, f.dialer.DialCount("b"))
	assert.Zero(t, f.dialer.DialCount("c"))
	assert.Zero(t, f.dialer.DialCount("d"))

	assert.JSONEq(t, `{"key":"a"}`, string(f.dialer.Latest("a").Creds))
	assert.Nil(t, f.dialer.Latest("b").Creds)

	local, err := f.files.Load("a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"a"}`, string(local))

	f.dialer.Latest("a").Emit(gateway.Opened{})
	f.waitStatus(t, "a", models.StatusConnected)
}

func TestRestoreSkipsSessionThatFailsRehydration(t *testing.T) {
	f := setup(t, testConfig(), func(cs CredentialStore) CredentialStore {
		return failingSaves{CredentialStore: cs, sessionID: "b"}
	})
	seed(t, f.reg, "a", models.StatusConnected, `{"key":"a"}`)
	seed(t, f.reg, "b", models.StatusConnected, `{"key":"b"}`)

	res, err := f.m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Found: 2, Restored: 1, Failed: 1}, res)

	c := f.nextConn(t)
	assert.Equal(t, "a", c.SessionID)
	c.Emit(gateway.Opened{})
	f.waitStatus(t, "a", models.StatusConnected)

	assert.Zero(t, f.dialer.DialCount("b"))
	require.Eventually(t, func() bool { return !f.m.HasHandle("b") }, waitTimeout, tick)
}

func TestRestoreKeepsCredentialsOfRunningSession(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()
	seed(t, f.reg, "a", models.StatusConnected, `{"key":"v1"}`)
	require.NoError(t, f.files.Save("a", json.RawMessage(`{"key":"v2"}`)))

	require.NoError(t, f.m.Start(ctx, "a", owner, StartOptions{}))
	c := f.nextConn(t)
	assert.JSONEq(t, `{"key":"v2"}`, string(c.Creds))

	res, err := f.m.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Found: 1, Restored: 1}, res)

	local, err := f.files.Load("a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"v2"}`, string(local))
	assert.Equal(t, 1, f.dialer.DialCount("a"))
	assert.Equal(t, 1, f.m.HandleCount())
}

func TestRestoreNothing(t *testing.T) {
	f := setup(t, testConfig(), nil)
	seed(t, f.reg, "c", models.StatusDisconnected, "")

	res, err := f.m.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{}, res)
	assert.Zero(t, f.m.HandleCount())
}

func TestListSessions(t *testing.T) {
	f := setup(t, testConfig(), nil)
	ctx := context.Background()
	seed(t, f.reg, "s2", models.StatusDisconnected, "")
	seed(t, f.reg, "s1", models.StatusConnected, `{"k":1}`)
	require.NoError(t, f.reg.Create(ctx, &models.Session{ID: "other", OwnerID: "user-2", Name: "x"}))

	list, err := f.m.ListSessions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.Equal(t, models.StatusConnected, list[0].Status)
	assert.Equal(t, "s2", list[1].ID)
}

func TestCloseLeavesStatusesForRestore(t *testing.T) {
	f := setup(t, testConfig(), nil)
	sess, c := f.connect(t, `{"key":"a"}`)

	f.m.Close()

	assert.True(t, c.IsClosed())
	assert.Zero(t, f.m.HandleCount())
	assert.Equal(t, models.StatusConnected, f.session(t, sess.ID).Status)

	_, err := f.m.StartSession(context.Background(), owner, StartOptions{})
	assert.ErrorIs(t, err, ErrClosed)

	list, err := f.m.ListSessions(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
