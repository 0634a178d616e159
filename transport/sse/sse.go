// Package sse implements the SSE-over-HTTP bridge transport.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/receiver"
	"github.com/voxa-labs/chatcore/transport"
)

// RequestHook shapes the outgoing request before it is sent, e.g. to add
// auth headers or a custom payload envelope.
type RequestHook func(*http.Request) error

// Adapter streams chunks from an SSE bridge endpoint.
type Adapter struct {
	Endpoint    string
	Client      *http.Client
	RequestHook RequestHook
	Logger      *log.Logger

	// OnPCM receives audio frames diverted by the receiver.
	OnPCM func(pcm []byte)
}

func New(endpoint string) *Adapter {
	return &Adapter{
		Endpoint: endpoint,
		Client:   http.DefaultClient,
		Logger:   log.New(os.Stdout, "[sse] ", log.LstdFlags),
	}
}

type chatEnvelope struct {
	Messages []*protocol.Message `json:"messages"`
}

// SendMessages posts the message list and parses the SSE response line by
// line until the [DONE] sentinel or EOF.
func (a *Adapter) SendMessages(ctx context.Context, messages []*protocol.Message) (*transport.Stream, error) {
	body, err := json.Marshal(chatEnvelope{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("sse: marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sse: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.RequestHook != nil {
		if err := a.RequestHook(req); err != nil {
			return nil, fmt.Errorf("sse: request hook: %w", err)
		}
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sse: request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("sse: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	stream := transport.NewStream()
	recv := receiver.New(a.Logger)
	recv.OnPCM = a.OnPCM

	go func() {
		defer resp.Body.Close()
		defer stream.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			recv.HandleMessage(scanner.Text(), stream)
			if recv.DoneReceived() {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			stream.Error(fmt.Errorf("sse: read stream: %w", err))
		}
	}()

	return stream, nil
}
