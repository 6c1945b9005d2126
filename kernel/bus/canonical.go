package bus

import (
	"bytes"
	"fmt"
	"sort"
)

// canonicalForm deterministically serializes the fields used for signing
// and forwarding: message_id, from, to, subject, body, priority,
// timestamp, and context with its keys sorted. Byte-identical across
// invocations given the same inputs.
func canonicalForm(messageID, from, to, subject string, body []byte, priority int, timestamp int64, ctx map[string]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "message_id=%s\n", messageID)
	fmt.Fprintf(&buf, "from=%s\n", from)
	fmt.Fprintf(&buf, "to=%s\n", to)
	fmt.Fprintf(&buf, "subject=%s\n", subject)
	fmt.Fprintf(&buf, "body=%x\n", body)
	fmt.Fprintf(&buf, "priority=%d\n", priority)
	fmt.Fprintf(&buf, "timestamp=%d\n", timestamp)

	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString("context=")
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte('&')
		}
		fmt.Fprintf(&buf, "%s=%s", k, ctx[k])
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
