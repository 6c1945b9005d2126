// Package adapter defines the sealed outbound client variant set sitting
// behind the circuit breaker: Anthropic, Bedrock, and OpenAI backed
// implementations of Client, each translating a generic Request into its
// provider's wire call and back into a generic Response.
package adapter

import "context"

// Role identifies the speaker of one conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// Request is the generic shape every provider-backed Client accepts.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting for a completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the generic shape every provider-backed Client returns.
type Response struct {
	Content    string
	StopReason string
	Usage      Usage
}

// Client is implemented by each provider adapter. kernel/breaker wraps
// calls to Complete with its retry/circuit-breaking policy.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
