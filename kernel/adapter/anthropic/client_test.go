package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel/adapter"
)

type fakeMessages struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return f.resp, f.err
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeMessages{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hello there"}},
			StopReason: "end_turn",
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 3},
		},
	}
	c, err := New(fake, "claude-test")
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), adapter.Request{
		Messages:  []adapter.Message{{Role: adapter.RoleUser, Content: "hi"}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 3, resp.Usage.OutputTokens)
	require.Equal(t, sdk.Model("claude-test"), fake.got.Model)
}

func TestCompleteRequiresMaxTokens(t *testing.T) {
	c, err := New(&fakeMessages{}, "claude-test")
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), adapter.Request{
		Messages: []adapter.Message{{Role: adapter.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
}
