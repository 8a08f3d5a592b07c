package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/iammorganparry/wagate/internal/credentials"
	"github.com/iammorganparry/wagate/internal/gateway"
	"github.com/iammorganparry/wagate/internal/metrics"
	"github.com/iammorganparry/wagate/internal/models"
)

const (
	msgReconnecting     = "reconnecting"
	msgLoggedOut        = "logged out"
	msgPairingTimeout   = "pairing timed out"
	msgAttemptsExceeded = "reconnect attempts exhausted"
)

type outcome int

const (
	outcomeStopped outcome = iota
	outcomeTransient
	outcomeLoggedOut
	outcomePairingTimeout
)

type connResult struct {
	outcome outcome
	opened  bool
}

type persistRequest struct {
	reply chan error
}

// runner is the single-threaded control loop of one session.
type runner struct {
	m         *Manager
	sessionID string
	ownerID   string
	force     bool
	prev      *runner
	logger    *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	persistCh chan persistRequest

	exiting bool // guarded by m.mu

	// rehydrate is written to the credential store before the first dial.
	// The outcome is reported on rehydrated.
	rehydrate  json.RawMessage
	rehydrated chan error

	// Owned by the run goroutine.
	status           models.Status
	message          string
	creds            json.RawMessage
	pendingConnected bool
}

func newRunner(m *Manager, sess *models.Session, force bool, prev *runner) *runner {
	ctx, cancel := context.WithCancel(m.ctx)
	return &runner{
		m:          m,
		sessionID:  sess.ID,
		ownerID:    sess.OwnerID,
		force:      force,
		prev:       prev,
		logger:     m.logger.With("session_id", sess.ID, "owner_id", sess.OwnerID),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		persistCh:  make(chan persistRequest),
		rehydrated: make(chan error, 1),
		status:     sess.Status,
		message:    sess.StatusMessage,
	}
}

func (r *runner) stop() {
	r.cancel()
}

func (r *runner) run() {
	defer r.m.wg.Done()
	defer close(r.done)
	defer r.m.release(r)
	defer r.cancel()

	// done closes only after every earlier runner of the session has
	// released its connection.
	if r.prev != nil {
		if !r.wait(r.prev.done) {
			<-r.prev.done
			return
		}
		r.prev = nil
	}
	if len(r.rehydrate) > 0 {
		err := r.m.creds.Save(r.sessionID, r.rehydrate)
		if err != nil {
			metrics.RecordCredentialFailure("rehydrate")
			err = &CredentialIOError{Op: "rehydrate", Err: err}
		}
		r.rehydrated <- err
		if err != nil {
			return
		}
	}
	if r.force {
		r.discardCredentials()
	}

	r.setStatus(models.StatusInitializing, "")

	attempt := 0
	for {
		res := r.connectOnce()

		switch res.outcome {
		case outcomeStopped:
			r.logger.Debug("session runner stopped")
			return

		case outcomeLoggedOut:
			r.m.markExiting(r)
			r.logout()
			return

		case outcomePairingTimeout:
			r.m.markExiting(r)
			r.m.codes.clear(r.sessionID)
			r.setStatus(models.StatusDisconnected, msgPairingTimeout)
			return

		case outcomeTransient:
			if res.opened {
				attempt = 0
			}
			attempt++
			if r.m.cfg.MaxAttempts > 0 && attempt > r.m.cfg.MaxAttempts {
				r.m.markExiting(r)
				metrics.RecordReconnect(true)
				r.logger.Warn("giving up on session after repeated failures", "attempts", attempt-1)
				r.m.codes.clear(r.sessionID)
				r.setStatus(models.StatusDisconnected, msgAttemptsExceeded)
				return
			}

			metrics.RecordReconnect(false)
			r.setStatus(models.StatusInitializing, msgReconnecting)
			delay := r.m.backoff(attempt)
			r.logger.Info("reconnecting session", "attempt", attempt, "delay", delay)
			if !r.sleep(delay) {
				return
			}
		}
	}
}

// connectOnce dials one connection and drives it until it ends.
func (r *runner) connectOnce() connResult {
	creds, err := r.m.creds.Load(r.sessionID)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		creds = nil
	case err != nil:
		metrics.RecordCredentialFailure("load")
		r.logger.Error("failed to load local credentials", "error", err)
		return connResult{outcome: outcomeTransient}
	}
	if len(creds) > 0 {
		r.creds = creds
	}

	dialCtx, cancel := context.WithTimeout(r.ctx, r.m.cfg.DialTimeout)
	conn, err := r.m.dialer.Dial(dialCtx, r.sessionID, creds)
	cancel()
	if err != nil {
		if r.ctx.Err() != nil {
			return connResult{outcome: outcomeStopped}
		}
		r.logger.Warn("failed to open connection", "error", err)
		return connResult{outcome: outcomeTransient}
	}

	metrics.HandleOpened()
	defer metrics.HandleClosed()
	defer conn.Close()

	return r.pump(conn)
}

// pump processes connection events in order until the connection ends.
func (r *runner) pump(conn gateway.Conn) connResult {
	opened := false
	var timer *time.Timer
	var pairingDeadline <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			return connResult{outcome: outcomeStopped, opened: opened}

		case <-pairingDeadline:
			r.logger.Warn("pairing code was not scanned in time", "timeout", r.m.cfg.PairingTimeout)
			return connResult{outcome: outcomePairingTimeout}

		case req := <-r.persistCh:
			req.reply <- r.persist(opened)

		case ev, ok := <-conn.Events():
			if !ok {
				r.logger.Warn("connection event stream ended without close")
				return connResult{outcome: outcomeTransient, opened: opened}
			}

			switch e := ev.(type) {
			case gateway.PairingCodeIssued:
				r.m.codes.set(r.sessionID, e.Code)
				r.setStatus(models.StatusAwaitingPairing, "")
				r.publish(models.EventQRCode, models.QRCodeEvent{SessionID: r.sessionID, Code: e.Code})
				if timer == nil && !opened && r.m.cfg.PairingTimeout > 0 {
					timer = time.NewTimer(r.m.cfg.PairingTimeout)
					pairingDeadline = timer.C
				}

			case gateway.Opened:
				opened = true
				if timer != nil {
					timer.Stop()
					timer, pairingDeadline = nil, nil
				}
				r.m.codes.clear(r.sessionID)
				r.logger.Info("session connected")
				r.syncConnected()
				r.publish(models.EventSessionStatus, models.SessionStatusEvent{
					SessionID: r.sessionID,
					Status:    models.StatusConnected,
				})

			case gateway.CredentialsChanged:
				r.updateCredentials(e.Blob, opened)

			case gateway.Closed:
				r.logger.Info("connection closed", "reason", e.Reason.String(), "error", e.Err)
				if e.Reason == gateway.CloseLoggedOut {
					return connResult{outcome: outcomeLoggedOut, opened: opened}
				}
				return connResult{outcome: outcomeTransient, opened: opened}
			}
		}
	}
}

// updateCredentials stores rotated key material locally first, then mirrors
// it into the registry once the session has opened. A failed registry write
// is retried by the next credential event.
func (r *runner) updateCredentials(blob json.RawMessage, opened bool) {
	r.creds = append(json.RawMessage(nil), blob...)

	if err := r.m.creds.Save(r.sessionID, r.creds); err != nil {
		metrics.RecordCredentialFailure("local")
		r.logger.Error("failed to save credentials locally", "error", err)
	}
	if !opened {
		return
	}
	if r.pendingConnected {
		r.syncConnected()
		return
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.SetCredentials(ctx, r.sessionID, r.creds); err != nil {
		metrics.RecordCredentialFailure("registry")
		r.logger.Error("failed to sync credentials to registry", "error", err)
	}
}

// syncConnected writes CONNECTED together with the latest credentials. With
// no credentials known yet the write waits for the next credential event.
func (r *runner) syncConnected() {
	if len(r.creds) == 0 {
		if blob, err := r.m.creds.Load(r.sessionID); err == nil {
			r.creds = blob
		}
	}
	if len(r.creds) == 0 {
		r.pendingConnected = true
		r.logger.Warn("connection opened before credentials were issued, deferring registry update")
		return
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.MarkConnected(ctx, r.sessionID, r.creds); err != nil {
		r.pendingConnected = true
		metrics.RecordCredentialFailure("registry")
		r.logger.Error("failed to record connected session", "error", err)
		return
	}
	r.pendingConnected = false
	if r.status != models.StatusConnected {
		metrics.RecordTransition(string(models.StatusConnected))
	}
	r.status, r.message = models.StatusConnected, ""
}

// persist serves a manual PersistSession request.
func (r *runner) persist(opened bool) error {
	if !opened {
		return ErrNotConnected
	}
	blob, err := r.m.creds.Load(r.sessionID)
	if err != nil {
		metrics.RecordCredentialFailure("load")
		return &CredentialIOError{Op: "load", Err: err}
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.MarkConnected(ctx, r.sessionID, blob); err != nil {
		metrics.RecordCredentialFailure("registry")
		return &CredentialIOError{Op: "persist", Err: err}
	}
	r.creds = blob
	r.pendingConnected = false
	r.status, r.message = models.StatusConnected, ""
	r.logger.Info("session persisted")
	return nil
}

func (r *runner) logout() {
	r.m.codes.clear(r.sessionID)
	r.creds = nil
	r.pendingConnected = false

	if err := r.m.creds.Delete(r.sessionID); err != nil {
		metrics.RecordCredentialFailure("delete")
		r.logger.Error("failed to delete local credentials", "error", err)
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.ClearCredentials(ctx, r.sessionID, models.StatusDisconnected, msgLoggedOut); err != nil {
		r.logger.Error("failed to clear registry credentials", "error", err)
	} else {
		r.status, r.message = models.StatusDisconnected, msgLoggedOut
		metrics.RecordTransition(string(models.StatusDisconnected))
	}
	r.logger.Info("session logged out")
	r.publish(models.EventSessionStatus, models.SessionStatusEvent{
		SessionID: r.sessionID,
		Status:    models.StatusDisconnected,
		Message:   msgLoggedOut,
	})
}

func (r *runner) discardCredentials() {
	r.m.codes.clear(r.sessionID)
	r.creds = nil

	if err := r.m.creds.Delete(r.sessionID); err != nil {
		metrics.RecordCredentialFailure("delete")
		r.logger.Error("failed to delete local credentials", "error", err)
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.ClearCredentials(ctx, r.sessionID, models.StatusInitializing, ""); err != nil {
		r.logger.Error("failed to clear registry credentials", "error", err)
		return
	}
	r.status, r.message = models.StatusInitializing, ""
	r.logger.Info("discarded credentials for fresh pairing")
}

// setStatus records and publishes a status change. Writing the same status
// and message again is a no-op.
func (r *runner) setStatus(status models.Status, message string) {
	if status == r.status && message == r.message {
		return
	}

	ctx, cancel := r.writeCtx()
	defer cancel()
	if err := r.m.registry.UpdateStatus(ctx, r.sessionID, status, message); err != nil {
		r.logger.Error("failed to update session status", "status", status, "error", err)
	} else {
		r.status, r.message = status, message
		metrics.RecordTransition(string(status))
	}
	r.publish(models.EventSessionStatus, models.SessionStatusEvent{
		SessionID: r.sessionID,
		Status:    status,
		Message:   message,
	})
}

func (r *runner) publish(name string, payload any) {
	if r.m.pub != nil {
		r.m.pub.Publish(r.ownerID, name, payload)
	}
}

// writeCtx bounds registry writes. They are not tied to the runner context so
// that a terminal status is still recorded while shutting down.
func (r *runner) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.m.cfg.WriteTimeout)
}

// sleep waits for d, answering persist requests meanwhile. It returns false
// when the runner was stopped.
func (r *runner) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return waitFor(r, timer.C)
}

func (r *runner) wait(ch <-chan struct{}) bool {
	return waitFor(r, ch)
}

func waitFor[T any](r *runner, ch <-chan T) bool {
	for {
		select {
		case <-r.ctx.Done():
			return false
		case <-ch:
			return true
		case req := <-r.persistCh:
			req.reply <- ErrNotConnected
		}
	}
}
