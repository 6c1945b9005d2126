package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel/task"
)

// TestMessagePriorityOrder covers the message-priority-order end-to-end
// scenario: five messages sent with increasing timestamps and priorities
// [normal, urgent, low, high, urgent] must list back in priority-descending,
// then timestamp-descending order: both urgents (newest first), then high,
// then normal, then low.
func TestMessagePriorityOrder(t *testing.T) {
	b := newTestBus("repo-a", "repo-b")
	ctx := context.Background()

	priorities := []task.Priority{
		task.PriorityNormal, // 1
		task.PriorityUrgent, // 2
		task.PriorityLow,    // 3
		task.PriorityHigh,   // 4
		task.PriorityUrgent, // 5
	}

	fakeNow := time.Unix(1000, 0)
	ids := make([]string, len(priorities))
	for i, p := range priorities {
		b.now = func(ts time.Time) func() time.Time {
			return func() time.Time { return ts }
		}(fakeNow)
		id, err := b.Send(ctx, "repo-a", "repo-b", "m", []byte("body"), int(p), nil, "")
		require.NoError(t, err)
		ids[i] = id
		fakeNow = fakeNow.Add(time.Second)
	}

	msgs, err := b.List(ctx, "repo-b")
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = m.MessageID
	}
	require.Equal(t, []string{ids[4], ids[1], ids[3], ids[0], ids[2]}, got,
		"expected urgent(5), urgent(2), high(4), normal(1), low(3)")
}
