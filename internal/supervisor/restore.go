package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/iammorganparry/wagate/internal/metrics"
	"github.com/iammorganparry/wagate/internal/models"
)

// RestoreResult summarizes a Restore pass.
type RestoreResult struct {
	Found    int `json:"found"`
	Restored int `json:"restored"`
	Failed   int `json:"failed"`
}

// Restore reconnects every session that was live when the previous process
// stopped. Sessions are rehydrated concurrently and a failure on one session
// does not affect the others.
func (m *Manager) Restore(ctx context.Context) (RestoreResult, error) {
	sessions, err := m.registry.FindRestorable(ctx)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("find restorable sessions: %w", err)
	}

	res := RestoreResult{Found: len(sessions)}
	if len(sessions) == 0 {
		m.logger.Info("no sessions to restore")
		return res, nil
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *models.Session) {
			defer wg.Done()
			err := m.restoreOne(sess)
			metrics.RecordRestore(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				m.logger.Error("failed to restore session", "session_id", sess.ID, "error", err)
				return
			}
			res.Restored++
		}(sess)
	}
	wg.Wait()

	m.logger.Info("sessions restored", "found", res.Found, "restored", res.Restored, "failed", res.Failed)
	return res, nil
}

// restoreOne starts a runner that rehydrates the registry blob before its
// first dial. A session already owned by a live runner keeps its local
// credentials, which may be newer than the registry copy.
func (m *Manager) restoreOne(sess *models.Session) error {
	r, err := m.spawn(sess, false, sess.CredentialBlob)
	if err != nil || r == nil || len(sess.CredentialBlob) == 0 {
		return err
	}
	select {
	case err := <-r.rehydrated:
		return err
	case <-r.done:
		select {
		case err := <-r.rehydrated:
			return err
		default:
			// Superseded before rehydrating.
			return nil
		}
	}
}
