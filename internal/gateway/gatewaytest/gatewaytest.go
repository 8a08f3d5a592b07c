// Package gatewaytest provides a scriptable in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/iammorganparry/wagate/internal/gateway"
)

// Conn is a fake connection whose events are pushed by the test.
type Conn struct {
	SessionID string
	Creds     json.RawMessage

	events    chan gateway.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(sessionID string, creds json.RawMessage) *Conn {
	return &Conn{
		SessionID: sessionID,
		Creds:     creds,
		events:    make(chan gateway.Event, 32),
		closed:    make(chan struct{}),
	}
}

func (c *Conn) Events() <-chan gateway.Event {
	return c.events
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Emit delivers ev unless the connection was closed locally.
func (c *Conn) Emit(ev gateway.Event) {
	select {
	case <-c.closed:
	case c.events <- ev:
	}
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed when Close is called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Dialer records every dial and hands out fake connections.
type Dialer struct {
	mu    sync.Mutex
	conns map[string][]*Conn
	fail  map[string]int
	// OnDial, when set, runs for every new connection before Dial returns.
	OnDial func(c *Conn)
	dialed chan *Conn
}

func NewDialer() *Dialer {
	return &Dialer{
		conns:  make(map[string][]*Conn),
		fail:   make(map[string]int),
		dialed: make(chan *Conn, 128),
	}
}

// ErrDialFailed is returned by Dial while failures are queued for a session.
var ErrDialFailed = errors.New("gatewaytest: dial failed")

// FailNext makes the next n dials for sessionID fail.
func (d *Dialer) FailNext(sessionID string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[sessionID] += n
}

func (d *Dialer) Dial(ctx context.Context, sessionID string, creds json.RawMessage) (gateway.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.fail[sessionID] > 0 {
		d.fail[sessionID]--
		d.mu.Unlock()
		return nil, ErrDialFailed
	}
	c := newConn(sessionID, creds)
	d.conns[sessionID] = append(d.conns[sessionID], c)
	onDial := d.OnDial
	d.mu.Unlock()

	if onDial != nil {
		onDial(c)
	}
	select {
	case d.dialed <- c:
	default:
	}
	return c, nil
}

// Conns returns every connection dialed for sessionID so far.
func (d *Dialer) Conns(sessionID string) []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns[sessionID]...)
}

// DialCount returns how many connections were opened for sessionID.
func (d *Dialer) DialCount(sessionID string) int {
	return len(d.Conns(sessionID))
}

// TotalDials returns how many connections were opened across all sessions.
func (d *Dialer) TotalDials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, cs := range d.conns {
		n += len(cs)
	}
	return n
}

// Next waits for the next successful dial.
func (d *Dialer) Next(timeout time.Duration) (*Conn, bool) {
	select {
	case c := <-d.dialed:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Latest returns the most recent connection for sessionID.
func (d *Dialer) Latest(sessionID string) *Conn {
	cs := d.Conns(sessionID)
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}
