package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"text/template"
	"time"

	"google.golang.org/genai"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
)

// defaultPromptTemplate instructs the model to transform every item and
// answer with a JSON array matching the request order and length.
const defaultPromptTemplate = `Rewrite each of the following numbered texts into clear, polished prose.
Respond with a JSON array only, no surrounding prose. The array must contain
exactly {{len .Items}} objects, one per input text and in the same order.
Each object has a required "text" field holding the rewritten text and an
optional "metadata" object with any notes about the rewrite.

{{range $i, $item := .Items}}Text {{$i}}:
{{$item}}

{{end}}`

// Generator implements the generation.Generator interface using Google's
// Gemini API. One instance serves all workers: per-key clients are created
// lazily and cached so credential rotation does not rebuild connections.
type Generator struct {
	logger *slog.Logger
	config config.LLMConfig

	// promptTemplate is the parsed template for creating batch prompts
	promptTemplate *template.Template

	// mu guards clients; workers share this generator concurrently.
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGenerator creates a new Generator with the provided dependencies.
// Clients are not dialed here; the first Generate call with a given key
// creates its client.
func NewGenerator(logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	if cfg.DispatchTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: dispatch timeout must be positive", generation.ErrInvalidConfig)
	}

	promptTemplate, err := template.New("batch").Parse(defaultPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Generator{
		logger:         logger,
		config:         cfg,
		promptTemplate: promptTemplate,
		clients:        make(map[string]*genai.Client),
	}, nil
}

// Generate sends the batch to Gemini using the given credential and returns
// one result per record, in batch order. The call carries the configured
// dispatch timeout; errors are mapped to the generation sentinels.
func (g *Generator) Generate(
	ctx context.Context,
	batch []*domain.Record,
	apiKey string,
) ([]generation.Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", generation.ErrInvalidConfig)
	}

	prompt, err := g.buildPrompt(batch)
	if err != nil {
		return nil, err
	}

	client, err := g.clientFor(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx,
		time.Duration(g.config.DispatchTimeoutSeconds)*time.Second)
	defer cancel()

	g.logger.DebugContext(ctx, "dispatching batch to Gemini",
		"model", g.config.ModelName,
		"batch_size", len(batch),
		"prompt_length", len(prompt))

	resp, err := client.Models.GenerateContent(callCtx, g.config.ModelName,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		})
	if err != nil {
		return nil, mapAPIError(err)
	}

	return parseResponse(resp, len(batch))
}

// buildPrompt renders the batch prompt from the template.
func (g *Generator) buildPrompt(batch []*domain.Record) (string, error) {
	items := make([]string, len(batch))
	for i, rec := range batch {
		items[i] = rec.SourceText
	}

	var buf bytes.Buffer
	if err := g.promptTemplate.Execute(&buf, promptData{Items: items}); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// clientFor returns the cached client for the key, creating it on first use.
func (g *Generator) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if client, ok := g.clients[apiKey]; ok {
		return client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	g.clients[apiKey] = client
	return client, nil
}

// mapAPIError converts a Gemini call failure into the generation sentinels
// the failure classifier understands. HTTP 429 is quota, 503 is transient
// overload, any other 5xx is a hard server error, and everything else
// (DNS failures, timeouts, connection resets) is a transport failure.
func mapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", generation.ErrQuotaExhausted, err)
		case apiErr.Code == http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %v", generation.ErrOverloaded, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", generation.ErrServerError, err)
		default:
			return fmt.Errorf("%w: %v", generation.ErrServerError, err)
		}
	}
	return fmt.Errorf("%w: %v", generation.ErrTransport, err)
}

// parseResponse extracts the JSON array from the model response and checks
// it lines up with the request batch. Shape problems are ErrInvalidResponse;
// the worker releases the batch and carries on.
func parseResponse(resp *genai.GenerateContentResponse, want int) ([]generation.Result, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	var items []responseItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v",
			generation.ErrInvalidResponse, err)
	}

	if len(items) != want {
		return nil, fmt.Errorf("%w: got %d results for %d records",
			generation.ErrInvalidResponse, len(items), want)
	}

	results := make([]generation.Result, len(items))
	for i, item := range items {
		results[i] = generation.Result{
			Text:     item.Text,
			Metadata: item.Metadata,
		}
	}

	// Malformed optional metadata is stripped, not fatal.
	generation.SanitizeResults(results)

	return results, nil
}
