// Package bedrock implements adapter.Client on top of the AWS Bedrock
// Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/lesleslie/mahavishnu/kernel/adapter"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs. Satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements adapter.Client over Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
}

var _ adapter.Client = (*Client)(nil)

// New builds a Bedrock-backed adapter client.
func New(runtime RuntimeClient, defaultModel string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{runtime: runtime, model: defaultModel}, nil
}

// Complete issues a Converse request and translates the response.
func (c *Client) Complete(ctx context.Context, req adapter.Request) (adapter.Response, error) {
	if len(req.Messages) == 0 {
		return adapter.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: encodeMessages(req.Messages),
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		input.System = system
	}
	inferenceCfg := &brtypes.InferenceConfiguration{}
	hasInference := false
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		inferenceCfg.MaxTokens = &mt
		hasInference = true
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		inferenceCfg.Temperature = &t
		hasInference = true
	}
	if hasInference {
		input.InferenceConfig = inferenceCfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return adapter.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output), nil
}

func encodeMessages(msgs []adapter.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		var role brtypes.ConversationRole
		switch m.Role {
		case adapter.RoleUser:
			role = brtypes.ConversationRoleUser
		case adapter.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			continue // system turns fold into input.System, not the turn list
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func systemBlocks(msgs []adapter.Message) []brtypes.SystemContentBlock {
	var blocks []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m.Role == adapter.RoleSystem {
			blocks = append(blocks, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		}
	}
	return blocks
}

func translateResponse(output *bedrockruntime.ConverseOutput) adapter.Response {
	resp := adapter.Response{StopReason: string(output.StopReason)}
	if msgOutput, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		var b strings.Builder
		for _, block := range msgOutput.Value.Content {
			if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
				b.WriteString(textBlock.Value)
			}
		}
		resp.Content = b.String()
	}
	if output.Usage != nil {
		resp.Usage.InputTokens = int(output.Usage.InputTokens)
		resp.Usage.OutputTokens = int(output.Usage.OutputTokens)
	}
	return resp
}
