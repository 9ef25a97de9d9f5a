package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// ollamaClient is the subset of the Ollama API client in use.
type ollamaClient interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
	Embed(ctx context.Context, req *ollama.EmbedRequest) (*ollama.EmbedResponse, error)
}

// Ollama talks to a local or remote Ollama server.
type Ollama struct {
	client     ollamaClient
	model      string
	embedModel string
}

// NewOllama creates a client for host. An empty host falls back to OLLAMA_HOST.
func NewOllama(host, model, embedModel string) (*Ollama, error) {
	var (
		client *ollama.Client
		err    error
	)
	if host == "" {
		client, err = ollama.ClientFromEnvironment()
	} else {
		var base *url.URL
		base, err = url.Parse(host)
		if err == nil {
			client = ollama.NewClient(base, &http.Client{Timeout: 5 * time.Minute})
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not create ollama client: %w", err)
	}
	return newOllamaWithClient(client, model, embedModel), nil
}

func newOllamaWithClient(client ollamaClient, model, embedModel string) *Ollama {
	return &Ollama{
		client:     client,
		model:      strings.TrimPrefix(model, "ollama:"),
		embedModel: strings.TrimPrefix(embedModel, "ollama:"),
	}
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.model }

// EmbeddingModel is the model used by Embed.
func (o *Ollama) EmbeddingModel() string { return o.embedModel }

// Complete runs a non-streaming chat request.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]ollama.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: req.Prompt})

	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": req.Temperature,
			"num_ctx":     contextSize(req),
		},
	}
	if req.JSON {
		chatReq.Format = json.RawMessage(`"json"`)
	}

	var content strings.Builder
	err := o.client.Chat(ctx, chatReq, func(res ollama.ChatResponse) error {
		content.WriteString(res.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return content.String(), nil
}

// Embed computes one vector per input text.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embed(ctx, &ollama.EmbedRequest{Model: o.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// contextSize leaves headroom over a rough token estimate, with a floor.
func contextSize(req Request) int {
	numCtx := EstimateTokens(req.System) + EstimateTokens(req.Prompt) + 1000
	if numCtx < 4096 {
		numCtx = 4096
	}
	return numCtx
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
