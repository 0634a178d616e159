// Package ws implements the bidirectional WebSocket bridge transport.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/receiver"
	"github.com/voxa-labs/chatcore/transport"
)

// Adapter streams chunks over a WebSocket bridge. The connection is cached
// across sends; ForceNew bypasses the cache when a fresh connection is
// required, e.g. after an error.
type Adapter struct {
	Endpoint string
	Header   http.Header
	ForceNew bool
	Dialer   *websocket.Dialer
	Logger   *log.Logger

	// OnPCM receives audio frames diverted by the receiver.
	OnPCM func(pcm []byte)

	mu   sync.Mutex
	conn *wsConn
}

// wsConn serializes writes to a single connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func New(endpoint string) *Adapter {
	return &Adapter{
		Endpoint: endpoint,
		Dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Logger:   log.New(os.Stdout, "[ws] ", log.LstdFlags),
	}
}

type sendEnvelope struct {
	Type     string              `json:"type"`
	Messages []*protocol.Message `json:"messages"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// SendMessages writes the message list as one frame and reads chunk frames
// until the receiver observes the turn boundary. The connection outlives
// the stream; the parser's manufactured [DONE] on approval requests is
// what ends a turn on a socket that stays open.
func (a *Adapter) SendMessages(ctx context.Context, messages []*protocol.Message) (*transport.Stream, error) {
	c, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.writeJSON(sendEnvelope{Type: "messages", Messages: messages}); err != nil {
		a.drop(c)
		return nil, fmt.Errorf("ws: write messages: %w", err)
	}

	stream := transport.NewStream()
	recv := receiver.New(a.Logger)
	recv.OnPCM = a.OnPCM
	recv.OnPing = func(ts int64) {
		if err := c.writeJSON(pongFrame{Type: "pong", Timestamp: ts}); err != nil {
			a.Logger.Printf("pong write failed: %v", err)
		}
	}

	go func() {
		defer stream.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !recv.DoneReceived() {
					stream.Error(fmt.Errorf("ws: read frame: %w", err))
				}
				a.drop(c)
				return
			}

			recv.HandleMessage(string(data), stream)
			if recv.DoneReceived() {
				return
			}
		}
	}()

	return stream, nil
}

func (a *Adapter) acquire(ctx context.Context) (*wsConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		if a.ForceNew {
			_ = a.conn.conn.Close()
			a.conn = nil
		} else {
			return a.conn, nil
		}
	}

	d := a.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, a.Endpoint, a.Header)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", a.Endpoint, err)
	}
	a.conn = &wsConn{conn: conn}
	return a.conn, nil
}

func (a *Adapter) drop(c *wsConn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == c {
		a.conn = nil
	}
	_ = c.conn.Close()
}

// Close discards the cached connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.conn.Close()
	a.conn = nil
	return err
}
