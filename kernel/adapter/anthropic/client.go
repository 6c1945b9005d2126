// Package anthropic implements adapter.Client on top of the Anthropic
// Claude Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lesleslie/mahavishnu/kernel/adapter"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. Satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements adapter.Client over Anthropic Claude Messages.
type Client struct {
	msg   MessagesClient
	model string
}

var _ adapter.Client = (*Client)(nil)

// New builds an Anthropic-backed adapter client.
func New(msg MessagesClient, defaultModel string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{msg: msg, model: defaultModel}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// client authenticated with apiKey. It returns an error if apiKey is empty.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, defaultModel)
}

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	if len(req.Messages) == 0 {
		return adapter.Response{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		return adapter.Response{}, errors.New("anthropic: max_tokens must be positive")
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Model:     sdk.Model(modelID),
		Messages:  encodeMessages(req.Messages),
	}
	if system := systemPrompt(req.Messages); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return adapter.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

func systemPrompt(msgs []adapter.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == adapter.RoleSystem {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(m.Content)
		}
	}
	return b.String()
}

func encodeMessages(msgs []adapter.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case adapter.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case adapter.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case adapter.RoleSystem:
			// system turns are folded into params.System, not the turn list.
		}
	}
	return out
}

func translateResponse(msg *sdk.Message) adapter.Response {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return adapter.Response{
		Content:    b.String(),
		StopReason: string(msg.StopReason),
		Usage: adapter.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}
