package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// LoggedOutStatusCode is the network's disconnect code for a user sign-out.
	LoggedOutStatusCode = 401
	// StatusLoggedOut is the websocket close code the bridge uses for the same.
	StatusLoggedOut websocket.StatusCode = 4401

	defaultReadLimit = 1 << 20
	eventBuffer      = 16
)

// Frame types spoken with the upstream bridge.
const (
	frameHello = "hello"
	frameQR    = "qr"
	frameOpen  = "open"
	frameCreds = "creds"
	frameClose = "close"
)

type frame struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"sessionId,omitempty"`
	Code       string          `json:"code,omitempty"`
	Creds      json.RawMessage `json:"creds,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// RemoteCloseError is the error attached to a Closed event that the bridge
// announced with a close frame.
type RemoteCloseError struct {
	StatusCode int
	Reason     string
}

func (e *RemoteCloseError) Error() string {
	return fmt.Sprintf("remote closed connection: status=%d reason=%q", e.StatusCode, e.Reason)
}

// WSDialer connects sessions through a websocket bridge to the messaging network.
type WSDialer struct {
	URL        string
	Token      string
	ReadLimit  int64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewWSDialer creates a dialer for the bridge at url.
func NewWSDialer(url, token string, logger *slog.Logger) *WSDialer {
	return &WSDialer{URL: url, Token: token, ReadLimit: defaultReadLimit, Logger: logger}
}

// Dial opens a websocket to the bridge and announces the session with its
// stored credentials.
func (d *WSDialer) Dial(ctx context.Context, sessionID string, creds json.RawMessage) (Conn, error) {
	header := http.Header{}
	header.Set("X-Session-ID", sessionID)
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}

	if err := wsjson.Write(ctx, c, frame{Type: frameHello, SessionID: sessionID, Creds: creds}); err != nil {
		_ = c.CloseNow()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	connCtx, cancel := context.WithCancel(context.Background())
	wc := &wsConn{
		c:        c,
		incoming: make(chan Event),
		events:   make(chan Event, eventBuffer),
		cancel:   cancel,
		logger:   logger.With("session_id", sessionID),
	}
	go wc.readLoop(connCtx)
	go wc.forward(connCtx)
	return wc, nil
}

type wsConn struct {
	c        *websocket.Conn
	incoming chan Event
	events   chan Event
	cancel   context.CancelFunc
	once     sync.Once
	logger   *slog.Logger
}

func (w *wsConn) Events() <-chan Event {
	return w.events
}

// Close tears the socket down. No Closed event is delivered afterwards.
func (w *wsConn) Close() error {
	w.once.Do(func() {
		w.cancel()
		_ = w.c.CloseNow()
	})
	return nil
}

// readLoop hands frames to forward, which is always ready to take them, so a
// slow consumer never stalls reads and control frames keep being answered.
func (w *wsConn) readLoop(ctx context.Context) {
	defer close(w.incoming)

	for {
		var f frame
		if err := wsjson.Read(ctx, w.c, &f); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.emit(ctx, Closed{Reason: classifyReadError(err), Err: err})
			_ = w.c.CloseNow()
			return
		}

		switch f.Type {
		case frameQR:
			if f.Code == "" {
				continue
			}
			w.emit(ctx, PairingCodeIssued{Code: f.Code})
		case frameOpen:
			w.emit(ctx, Opened{})
		case frameCreds:
			if len(f.Creds) == 0 || string(f.Creds) == "null" {
				continue
			}
			w.emit(ctx, CredentialsChanged{Blob: f.Creds})
		case frameClose:
			w.emit(ctx, Closed{
				Reason: classifyStatusCode(f.StatusCode),
				Err:    &RemoteCloseError{StatusCode: f.StatusCode, Reason: f.Reason},
			})
			_ = w.c.Close(websocket.StatusNormalClosure, "")
			return
		default:
			w.logger.Debug("ignoring gateway frame", "type", f.Type)
		}
	}
}

func (w *wsConn) emit(ctx context.Context, ev Event) {
	select {
	case w.incoming <- ev:
	case <-ctx.Done():
	}
}

// forward queues events from the read loop and delivers them in order.
func (w *wsConn) forward(ctx context.Context) {
	defer close(w.events)

	in := w.incoming
	var queue []Event
	for {
		if in == nil && len(queue) == 0 {
			return
		}
		var out chan<- Event
		var next Event
		if len(queue) > 0 {
			out, next = w.events, queue[0]
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = enqueue(queue, ev)
		case out <- next:
			queue[0] = nil
			queue = queue[1:]
		}
	}
}

// enqueue appends ev. A new pairing code supersedes any code still queued.
func enqueue(queue []Event, ev Event) []Event {
	if _, ok := ev.(PairingCodeIssued); ok {
		kept := queue[:0]
		for _, q := range queue {
			if _, stale := q.(PairingCodeIssued); !stale {
				kept = append(kept, q)
			}
		}
		queue = kept
	}
	return append(queue, ev)
}

func classifyStatusCode(code int) CloseReason {
	if code == LoggedOutStatusCode {
		return CloseLoggedOut
	}
	return CloseTransient
}

func classifyReadError(err error) CloseReason {
	if websocket.CloseStatus(err) == StatusLoggedOut {
		return CloseLoggedOut
	}
	return CloseTransient
}
