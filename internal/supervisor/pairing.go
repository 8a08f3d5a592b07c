package supervisor

import (
	"sync"
	"time"
)

type pairingCode struct {
	code     string
	issuedAt time.Time
}

// pairingCodes keeps the latest pairing code per session for clients that
// missed the push.
type pairingCodes struct {
	mu    sync.RWMutex
	codes map[string]pairingCode
}

func newPairingCodes() *pairingCodes {
	return &pairingCodes{codes: make(map[string]pairingCode)}
}

func (p *pairingCodes) set(sessionID, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[sessionID] = pairingCode{code: code, issuedAt: time.Now()}
}

func (p *pairingCodes) clear(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.codes, sessionID)
}

func (p *pairingCodes) get(sessionID string) (pairingCode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.codes[sessionID]
	return c, ok
}
