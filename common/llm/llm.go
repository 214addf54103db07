package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

const defaultMaxTokens = 2048

var errNoAPIKey = errors.New("API key is required")

// Config selects and authenticates a model provider. BaseURL points the
// OpenAI client at a compatible gateway.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// AgentClient runs one model turn, optionally offering tools.
type AgentClient interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
	Provider() string
}

type AgentRequest struct {
	Messages  []Message
	Tools     []Tool
	MaxTokens int
	// JSONMode asks for a bare JSON object. Ignored when Tools is set.
	JSONMode bool
}

func (r AgentRequest) maxTokens() int64 {
	if r.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return int64(r.MaxTokens)
}

type Message struct {
	Role    string
	Content string
}

// Tool is a function offered to the model. Parameters is a JSON schema value.
type Tool struct {
	Name        string
	Description string
	Parameters  any
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, possibly malformed
}

type AgentResponse struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string // "stop", "tool_calls" or "length"
	PromptTokens     int
	CompletionTokens int
}

// NewAgentClient builds the client for cfg.Provider, OpenAI when unset.
func NewAgentClient(cfg Config) (AgentClient, error) {
	if cfg.APIKey == "" {
		return nil, errNoAPIKey
	}
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func logCompletion(ctx context.Context, client AgentClient, start time.Time, resp *AgentResponse) {
	slog.DebugContext(ctx, "model turn completed",
		"provider", client.Provider(),
		"model", client.Model(),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"tool_calls", len(resp.ToolCalls),
		"finish_reason", resp.FinishReason)
}

// GenerateSchemaFrom reflects an inline JSON schema from a Go value.
func GenerateSchemaFrom(v any) any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return r.Reflect(v)
}

// SchemaMap renders a schema value as a plain map, the shape both SDKs accept.
func SchemaMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
