// Package direct implements the direct LLM provider transport, streaming
// straight from the hosted model API and normalizing its responses into
// protocol chunks.
package direct

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"github.com/voxa-labs/chatcore/protocol"
	"github.com/voxa-labs/chatcore/transport"
)

func init() {
	// Load .env if present (not present in production).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// Adapter calls the provider directly. No bridge is involved, so there is
// no SSE framing to parse: provider responses are converted to chunks in
// process.
type Adapter struct {
	Model  string
	Logger *log.Logger

	client *genai.Client
}

func New(ctx context.Context, model string) (*Adapter, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("direct: create client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Adapter{
		Model:  model,
		Logger: log.New(os.Stdout, "[direct] ", log.LstdFlags),
		client: client,
	}, nil
}

// SendMessages converts the list to provider contents and streams the
// response back as chunks, ending with a finish chunk.
func (a *Adapter) SendMessages(ctx context.Context, messages []*protocol.Message) (*transport.Stream, error) {
	contents, err := toContents(messages)
	if err != nil {
		return nil, err
	}

	stream := transport.NewStream()

	go func() {
		defer stream.Close()

		runID := uuid.New().String()
		for resp, err := range a.client.Models.GenerateContentStream(ctx, a.Model, contents, nil) {
			if err != nil {
				if ctx.Err() == nil {
					stream.Error(fmt.Errorf("direct: stream: %w", err))
				}
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if c, ok := toChunk(part, runID); ok {
					if err := stream.Enqueue(c); err != nil {
						return
					}
				}
			}
		}
		_ = stream.Enqueue(protocol.FinishChunk{})
	}()

	return stream, nil
}

func toChunk(part *genai.Part, runID string) (protocol.Chunk, bool) {
	if part.Text != "" {
		return protocol.TextDeltaChunk{ID: runID, Delta: part.Text}, true
	}
	if part.FunctionCall != nil {
		input, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			input = []byte("{}")
		}
		id := part.FunctionCall.ID
		if id == "" {
			id = uuid.New().String()
		}
		return protocol.ToolInputAvailableChunk{
			ToolCallID: id,
			ToolName:   part.FunctionCall.Name,
			Input:      input,
		}, true
	}
	return nil, false
}

// toContents maps the message list onto the provider's content turns. Tool
// parts with results become function responses on the user side; the calls
// themselves ride on the model side.
func toContents(messages []*protocol.Message) ([]*genai.Content, error) {
	var contents []*genai.Content

	for _, msg := range messages {
		role := "user"
		if msg.Role == protocol.RoleAssistant {
			role = "model"
		}

		var modelParts []*genai.Part
		var responseParts []*genai.Part

		for _, p := range msg.Parts {
			switch v := p.(type) {
			case *protocol.TextPart:
				if v.Text != "" {
					modelParts = append(modelParts, &genai.Part{Text: v.Text})
				}
			case *protocol.ToolPart:
				var args map[string]any
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &args); err != nil {
						return nil, fmt.Errorf("direct: tool input for %s: %w", v.ToolName, err)
					}
				}
				modelParts = append(modelParts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: v.ToolCallID, Name: v.ToolName, Args: args},
				})

				if v.State == protocol.ToolOutputAvailable && len(v.Output) > 0 {
					var out map[string]any
					if err := json.Unmarshal(v.Output, &out); err != nil {
						out = map[string]any{"raw_output": string(v.Output)}
					}
					responseParts = append(responseParts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{ID: v.ToolCallID, Name: v.ToolName, Response: out},
					})
				}
			}
		}

		if len(modelParts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: modelParts})
		}
		if len(responseParts) > 0 {
			contents = append(contents, &genai.Content{Role: "user", Parts: responseParts})
		}
	}

	return contents, nil
}
