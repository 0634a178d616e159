package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/voxa-labs/chatcore/chunklog"
	"github.com/voxa-labs/chatcore/protocol"
)

// Responder produces the chunk sequence for one request turn. The bridge
// frames whatever it returns; it does not inspect the chunks.
type Responder interface {
	Respond(ctx context.Context, history []*protocol.Message) ([]protocol.Chunk, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, history []*protocol.Message) ([]protocol.Chunk, error)

func (f ResponderFunc) Respond(ctx context.Context, history []*protocol.Message) ([]protocol.Chunk, error) {
	return f(ctx, history)
}

// chatRequest is the payload accepted on both ingress paths.
type chatRequest struct {
	Type     string              `json:"type,omitempty"`
	Messages []*protocol.Message `json:"messages"`
}

// controlFrame covers the bare JSON control messages on the WebSocket path.
type controlFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Server exposes the SSE endpoint and the WebSocket ingress that the client
// transports connect to. Client input is handled strictly: a WebSocket frame
// that is not valid JSON closes the connection with a non-1000 code.
type Server struct {
	Responder Responder
	Logger    *log.Logger
	ChunkLog  *chunklog.Logger

	upgrader websocket.Upgrader
}

// NewServer creates a bridge server around the given responder.
func NewServer(responder Responder) *Server {
	return &Server{
		Responder: responder,
		Logger:    log.New(os.Stdout, "[Bridge] ", log.LstdFlags),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the gin engine with the bridge endpoints.
func (s *Server) Routes() *gin.Engine {
	r := gin.Default()

	r.POST("/chat/stream/:conversationID", s.handleSSE)
	r.GET("/ws", s.handleWS)

	return r
}

// Run starts the server on the given address.
func (s *Server) Run(addr string) error {
	return s.Routes().Run(addr)
}

// handleSSE streams one response turn as data: lines terminated by [DONE].
func (s *Server) handleSSE(c *gin.Context) {
	conversationID := c.Param("conversationID")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request must contain messages"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	chunks, err := s.Responder.Respond(c.Request.Context(), req.Messages)
	if err != nil {
		s.Logger.Printf("Responder error for %s: %v", conversationID, err)
		fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
		c.Writer.Flush()
		return
	}

	for _, chunk := range chunks {
		data, err := protocol.MarshalChunk(chunk)
		if err != nil {
			s.Logger.Printf("Skipping unmarshalable chunk: %v", err)
			continue
		}
		s.logChunk(conversationID, "sse", chunk)
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// handleWS upgrades and serves one WebSocket session.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Printf("Upgrade failed: %v", err)
		return
	}
	sess := &wsSession{server: s, conn: conn}
	sess.serve(c.Request.Context())
}

// wsSession serializes writes to one client connection.
type wsSession struct {
	server *Server
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (ws *wsSession) serve(ctx context.Context) {
	defer ws.conn.Close()

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.server.Logger.Printf("Read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// Client input is strict: anything that is not valid JSON is a
		// protocol violation and ends the connection.
		if !json.Valid(data) {
			ws.closeWith(websocket.CloseUnsupportedData, "invalid JSON frame")
			return
		}

		var ctrl controlFrame
		if err := json.Unmarshal(data, &ctrl); err != nil {
			ws.closeWith(websocket.CloseUnsupportedData, "unreadable frame")
			return
		}

		switch ctrl.Type {
		case "ping":
			ws.writeJSON(controlFrame{Type: "pong", Timestamp: ctrl.Timestamp})

		case "pong":
			// Keep-alive reply from the client, nothing to do.

		case "messages":
			var req chatRequest
			if err := json.Unmarshal(data, &req); err != nil || len(req.Messages) == 0 {
				ws.closeWith(websocket.ClosePolicyViolation, "malformed messages frame")
				return
			}
			if err := ws.respond(ctx, req.Messages); err != nil {
				ws.server.Logger.Printf("Stream error: %v", err)
				return
			}

		default:
			ws.closeWith(websocket.ClosePolicyViolation, "unrecognized frame type")
			return
		}
	}
}

// respond streams one turn to the client as data: framed text frames, the
// same shape the SSE endpoint emits, ending with [DONE]. A turn that ends
// in an approval request gets no [DONE]: the socket stays open across the
// approval round trip and the client manufactures its own turn boundary, so
// a trailing [DONE] here would sit in the connection and terminate the next
// turn before its first chunk.
func (ws *wsSession) respond(ctx context.Context, history []*protocol.Message) error {
	chunks, err := ws.server.Responder.Respond(ctx, history)
	if err != nil {
		ws.server.Logger.Printf("Responder error: %v", err)
		return ws.writeText("data: [DONE]")
	}

	var last protocol.Chunk
	for _, chunk := range chunks {
		data, err := protocol.MarshalChunk(chunk)
		if err != nil {
			ws.server.Logger.Printf("Skipping unmarshalable chunk: %v", err)
			continue
		}
		ws.server.logChunk("", "ws", chunk)
		if err := ws.writeText("data: " + string(data)); err != nil {
			return err
		}
		last = chunk
	}
	if _, awaiting := last.(protocol.ToolApprovalRequestChunk); awaiting {
		return nil
	}
	return ws.writeText("data: [DONE]")
}

func (ws *wsSession) writeText(frame string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (ws *wsSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.writeText(string(data))
}

func (ws *wsSession) closeWith(code int, reason string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (s *Server) logChunk(sessionID, mode string, chunk protocol.Chunk) {
	if s.ChunkLog == nil {
		return
	}
	_ = s.ChunkLog.Log(sessionID, mode, "bridge.egress", chunklog.DirectionOutbound, chunk, nil)
}
