// Package llmclient is the out-of-scope external collaborator boundary
// for LLM-assisted extraction (spec.md §1, §4.9). It fixes the
// interface internal/extract programs against and ships one concrete
// adapter per pack-available SDK: Anthropic and OpenAI.
//
// Grounded on the teacher-adjacent internal/llm package in
// jmylchreest-refyne (Provider interface, ProviderConfig, Message/Role,
// CompletionRequest/CompletionResponse shape), generalized from a
// free-text chat completion interface to one that always returns a
// JSON object matching a caller-supplied schema, since every call site
// in this pipeline wants typed fields back, never prose.
package llmclient

import (
	"context"
	"time"
)

// Role is the sender of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn in the prompt sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request asks the model to extract fields matching Schema (a JSON
// Schema object map) from the page text in Messages.
type Request struct {
	Messages    []Message
	Schema      map[string]any
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption so callers can attach an LLM cost to
// the extraction result, per spec.md §4.9.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model's structured-output result: Fields is the
// schema-validated JSON object, decoded into a generic map since the
// shape varies by page type.
type Response struct {
	Fields Fields
	Usage  Usage
	Model  string
}

// Fields is the decoded JSON object an extraction call returns.
type Fields map[string]any

// Client is the interface internal/extract programs against. Every
// adapter must return a JSON object honoring Request.Schema rather
// than free text, using whatever structured-output mechanism its SDK
// offers (tool-use for Anthropic, JSON-schema response format for
// OpenAI).
type Client interface {
	Extract(ctx context.Context, req Request) (Response, error)
	Name() string
}

// Config holds the common provider configuration.
type Config struct {
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults, matching the teacher's
// DefaultProviderConfig.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Timeout:    60 * time.Second,
	}
}
