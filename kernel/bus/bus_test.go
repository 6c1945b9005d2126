package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/bus/store/memory"
)

func newTestBus(repos ...string) *Bus {
	secrets := MapSecretResolver{}
	for _, r := range repos {
		secrets[r] = []byte("secret-" + r)
	}
	return New(memory.New(), secrets, repos, nil)
}

func TestSendUnknownRepoFails(t *testing.T) {
	b := newTestBus("repo-a")
	ctx := context.Background()

	_, err := b.Send(ctx, "repo-a", "repo-b", "hi", []byte("body"), 1, nil, "")
	require.ErrorIs(t, err, kernel.ErrUnknownRepo)
}

func TestSendThenListObservesMessage(t *testing.T) {
	b := newTestBus("repo-a", "repo-b")
	ctx := context.Background()

	id, err := b.Send(ctx, "repo-a", "repo-b", "hi", []byte("body"), 1, nil, "")
	require.NoError(t, err)

	msgs, err := b.List(ctx, "repo-b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].MessageID)
	require.Equal(t, StatusUnread, msgs[0].Status)
}

func TestAcknowledgeTransitions(t *testing.T) {
	b := newTestBus("repo-a", "repo-b")
	ctx := context.Background()

	id, err := b.Send(ctx, "repo-a", "repo-b", "hi", []byte("body"), 1, nil, "")
	require.NoError(t, err)

	require.NoError(t, b.Acknowledge(ctx, id, StatusRead))
	require.Error(t, b.Acknowledge(ctx, id, StatusUnread))

	require.NoError(t, b.Acknowledge(ctx, id, StatusArchived))
	require.NoError(t, b.Acknowledge(ctx, id, StatusArchived)) // double-archive is a no-op
}

func TestForwardSharesThreadRoot(t *testing.T) {
	b := newTestBus("repo-a", "repo-b", "repo-c")
	ctx := context.Background()

	original, err := b.Send(ctx, "repo-a", "repo-b", "hi", []byte("body"), 2, nil, "")
	require.NoError(t, err)

	fwd1, err := b.Forward(ctx, original, "repo-c", "")
	require.NoError(t, err)

	msgs, err := b.List(ctx, "repo-c")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, original, msgs[0].InReplyTo)
	require.Equal(t, 2, msgs[0].Priority)

	fwd2, err := b.Forward(ctx, original, "repo-c", "")
	require.NoError(t, err)
	require.NotEqual(t, fwd1, fwd2)

	env1, err := b.store.Get(ctx, fwd1)
	require.NoError(t, err)
	env2, err := b.store.Get(ctx, fwd2)
	require.NoError(t, err)
	require.Equal(t, env1.ThreadRoot, env2.ThreadRoot)
}

func TestBroadcastIsPartialSend(t *testing.T) {
	b := newTestBus("repo-a", "repo-b")
	ctx := context.Background()

	sent, failed := b.Broadcast(ctx, "repo-a", []string{"repo-b", "repo-missing"}, "hi", []byte("body"), 1, nil)
	require.Len(t, sent, 1)
	require.Len(t, failed, 1)
	require.ErrorIs(t, failed["repo-missing"], kernel.ErrUnknownRepo)
}
