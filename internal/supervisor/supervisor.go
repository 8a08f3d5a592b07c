// Package supervisor owns the lifecycle of every tenant connection: creation,
// pairing, credential persistence, failure classification, reconnection and
// restoration after a restart.
//
// Each session with a live connection has exactly one runner goroutine. The
// runner owns the gateway.Conn, consumes its events in order and is the only
// writer of that session's registry row.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/iammorganparry/wagate/internal/gateway"
	"github.com/iammorganparry/wagate/internal/models"
)

const maxNameLength = 100

// Registry is the durable session store.
type Registry interface {
	Create(ctx context.Context, sess *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.Status, message string) error
	MarkConnected(ctx context.Context, id string, blob json.RawMessage) error
	SetCredentials(ctx context.Context, id string, blob json.RawMessage) error
	ClearCredentials(ctx context.Context, id string, status models.Status, message string) error
	FindRestorable(ctx context.Context) ([]*models.Session, error)
	FindByOwner(ctx context.Context, ownerID string) ([]*models.Session, error)
}

// CredentialStore is the local working area for credential blobs.
type CredentialStore interface {
	Load(sessionID string) (json.RawMessage, error)
	Save(sessionID string, blob json.RawMessage) error
	Delete(sessionID string) error
}

// Publisher delivers events to the tenant that owns a session.
type Publisher interface {
	Publish(tenantID, name string, payload any)
}

// Config tunes reconnects and timeouts.
type Config struct {
	Backoff BackoffConfig
	// MaxAttempts is the number of consecutive failed reconnects before the
	// session is surfaced as DISCONNECTED. Zero retries forever.
	MaxAttempts int
	// PairingTimeout bounds how long a session may wait for its pairing code
	// to be scanned. Zero waits indefinitely.
	PairingTimeout time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Backoff: BackoffConfig{
			InitialDelay: time.Second,
			MaxDelay:     2 * time.Minute,
			Multiplier:   2,
			Jitter:       true,
		},
		MaxAttempts:    10,
		PairingTimeout: 3 * time.Minute,
		DialTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// StartOptions modify Start and StartSession.
type StartOptions struct {
	// Force discards local and registry credentials before connecting,
	// forcing a fresh pairing.
	Force bool
	// Name labels a new session. Ignored when restarting an existing one.
	Name string
}

// Manager is the connection supervisor.
type Manager struct {
	registry Registry
	creds    CredentialStore
	dialer   gateway.Dialer
	pub      Publisher
	cfg      Config
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners map[string]*runner
	closed  bool

	codes *pairingCodes

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a supervisor. Call Restore once after the publisher is ready.
func New(registry Registry, creds CredentialStore, dialer gateway.Dialer, pub Publisher, cfg Config, logger *slog.Logger) *Manager {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		creds:    creds,
		dialer:   dialer,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		runners:  make(map[string]*runner),
		codes:    newPairingCodes(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// StartSession creates a new session row for ownerID and starts connecting it.
func (m *Manager) StartSession(ctx context.Context, ownerID string, opts StartOptions) (*models.Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, &ValidationError{Field: "ownerId", Message: "is required"}
	}
	name := strings.TrimSpace(opts.Name)
	if len(name) > maxNameLength {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}
	if name == "" {
		name = defaultName(ownerID)
	}

	if m.isClosed() {
		return nil, ErrClosed
	}
	sess := &models.Session{OwnerID: ownerID, Name: name, Status: models.StatusInitializing}
	if err := m.registry.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := m.launch(sess, opts.Force); err != nil {
		// Closed between the check and the insert: leave no INITIALIZING
		// row without a connection behind.
		if uerr := m.registry.UpdateStatus(ctx, sess.ID, models.StatusDisconnected, ""); uerr != nil {
			m.logger.Error("failed to update session status", "session_id", sess.ID, "error", uerr)
		}
		return nil, err
	}
	m.logger.Info("session created", "session_id", sess.ID, "owner_id", ownerID)
	return sess, nil
}

// Start connects an existing session. When a connection already exists for
// the session and Force is false, Start does nothing.
func (m *Manager) Start(ctx context.Context, sessionID, ownerID string, opts StartOptions) error {
	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Field: "sessionId", Message: "is required"}
	}
	if strings.TrimSpace(ownerID) == "" {
		return &ValidationError{Field: "ownerId", Message: "is required"}
	}
	sess, err := m.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	return m.launch(sess, opts.Force)
}

func (m *Manager) launch(sess *models.Session, force bool) error {
	_, err := m.spawn(sess, force, nil)
	return err
}

// spawn registers a runner for the session. The map check and insert happen
// in one critical section, so concurrent calls create at most one runner. It
// returns nil when a live runner already owns the session and force is false.
func (m *Manager) spawn(sess *models.Session, force bool, rehydrate json.RawMessage) (*runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	prev := m.runners[sess.ID]
	if prev != nil && !prev.exiting && !force {
		return nil, nil
	}

	r := newRunner(m, sess, force, prev)
	r.rehydrate = rehydrate
	if prev != nil {
		prev.stop()
	}
	m.runners[sess.ID] = r
	m.wg.Add(1)
	go r.run()
	return r, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// markExiting flags a runner that has dropped its connection and is about to
// write its terminal status. A later Start replaces it instead of no-oping.
func (m *Manager) markExiting(r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.exiting = true
}

func (m *Manager) release(r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runners[r.sessionID] == r {
		delete(m.runners, r.sessionID)
	}
}

func (m *Manager) runner(sessionID string) *runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runners[sessionID]
}

// PersistSession copies the session's local credentials into the registry.
// It is the manual counterpart of the automatic credential sync.
func (m *Manager) PersistSession(ctx context.Context, sessionID, ownerID string) error {
	if _, err := m.GetSession(ctx, sessionID, ownerID); err != nil {
		return err
	}
	r := m.runner(sessionID)
	if r == nil {
		return ErrNotConnected
	}

	req := persistRequest{reply: make(chan error, 1)}
	select {
	case r.persistCh <- req:
	case <-r.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetSession returns the session if it exists and belongs to ownerID.
func (m *Manager) GetSession(ctx context.Context, sessionID, ownerID string) (*models.Session, error) {
	sess, err := m.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil || sess.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ListSessions returns the tenant's sessions ordered by name.
func (m *Manager) ListSessions(ctx context.Context, ownerID string) ([]models.SessionSummary, error) {
	sessions, err := m.registry.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out, nil
}

// LatestPairingCode returns the newest pairing code of a session, if any.
func (m *Manager) LatestPairingCode(sessionID string) (string, bool) {
	c, ok := m.codes.get(sessionID)
	return c.code, ok
}

// LatestPairingCodeForOwner returns the newest pairing code across the
// tenant's sessions.
func (m *Manager) LatestPairingCodeForOwner(ctx context.Context, ownerID string) (sessionID, code string, ok bool, err error) {
	sessions, err := m.registry.FindByOwner(ctx, ownerID)
	if err != nil {
		return "", "", false, fmt.Errorf("list sessions: %w", err)
	}
	var newest time.Time
	for _, s := range sessions {
		c, found := m.codes.get(s.ID)
		if !found || c.issuedAt.Before(newest) {
			continue
		}
		newest, sessionID, code, ok = c.issuedAt, s.ID, c.code, true
	}
	return sessionID, code, ok, nil
}

// HandleCount returns the number of sessions with a live runner.
func (m *Manager) HandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}

// HasHandle reports whether the session has a live runner.
func (m *Manager) HasHandle(sessionID string) bool {
	return m.runner(sessionID) != nil
}

// Close stops every runner and waits for them. Registry statuses are left as
// they are so that the next process restores the same sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) backoff(attempt int) time.Duration {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return NextBackoffDelay(m.cfg.Backoff, attempt, m.rng)
}

func defaultName(ownerID string) string {
	prefix := []rune(ownerID)
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return fmt.Sprintf("Session %s...", string(prefix))
}
