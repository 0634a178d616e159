// Package chatcore is a streaming chat client core: transport adapters that
// normalize provider output into one chunk union, a reconciler that folds
// chunks into a message list, an auto-send loop for tool approval round
// trips, an audio pipeline, and a chunk log for replay debugging.
package chatcore

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/reconcile"
	"github.com/voxa-labs/chatcore/transport"
	"github.com/voxa-labs/chatcore/transport/direct"
	"github.com/voxa-labs/chatcore/transport/sse"
	"github.com/voxa-labs/chatcore/transport/ws"
)

// Re-export the types callers touch most, so simple clients only import
// the root package.
type (
	Message          = protocol.Message
	Chunk            = protocol.Chunk
	ApprovalResponse = protocol.ApprovalResponse
	Session          = reconcile.Session
	FrontendExecutor = reconcile.FrontendExecutor
)

// Client ties a session to a conversation store. Messages are persisted
// after every completed turn and reloaded on construction.
type Client struct {
	Session *reconcile.Session
	Logger  *log.Logger

	cfg            *Config
	conversationID string
}

// NewClient builds the transport for the configured mode, seeds the session
// with stored history when a store is configured, and returns a ready client.
func NewClient(ctx context.Context, conversationID string, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	adapter, err := buildAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sess := reconcile.NewSession(conversationID, cfg.Mode, adapter, reconcile.NewReconciler(cfg.Registry))
	sess.ChunkLog = cfg.ChunkLog

	c := &Client{
		Session:        sess,
		Logger:         log.New(os.Stdout, fmt.Sprintf("[chatcore %s] ", conversationID), log.LstdFlags),
		cfg:            cfg,
		conversationID: conversationID,
	}

	if cfg.Store != nil {
		history, err := cfg.Store.FetchHistory(conversationID)
		if err != nil {
			return nil, fmt.Errorf("chatcore: load history: %w", err)
		}
		if err := sess.Restore(history); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func buildAdapter(ctx context.Context, cfg *Config) (transport.Adapter, error) {
	switch cfg.Mode {
	case "direct":
		return direct.New(ctx, cfg.Model)
	case "sse":
		return sse.New(cfg.Endpoint), nil
	case "ws":
		return ws.New(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("chatcore: unknown mode %q", cfg.Mode)
	}
}

// Send runs one user turn to quiescence and persists the resulting list.
func (c *Client) Send(ctx context.Context, text string) error {
	if err := c.Session.Send(ctx, text); err != nil {
		return err
	}
	c.persist()
	return nil
}

// RespondToApproval applies a tool approval decision, flushing it to the
// backend when the turn calls for it, then persists.
func (c *Client) RespondToApproval(ctx context.Context, resp protocol.ApprovalResponse) error {
	if err := c.Session.RespondToApproval(ctx, resp); err != nil {
		return err
	}
	c.persist()
	return nil
}

// Messages returns a snapshot of the conversation.
func (c *Client) Messages() []*protocol.Message {
	return c.Session.Messages()
}

// Interrupt abandons the in-flight stream, keeping partial state.
func (c *Client) Interrupt() {
	c.Session.Interrupt()
}

// Close releases the store connection.
func (c *Client) Close() error {
	if c.cfg.Store != nil {
		return c.cfg.Store.Close()
	}
	return nil
}

func (c *Client) persist() {
	if c.cfg.Store == nil {
		return
	}
	if err := c.cfg.Store.SaveHistory(c.conversationID, c.Session.Messages()); err != nil {
		c.Logger.Printf("Error saving conversation: %v", err)
	}
}
