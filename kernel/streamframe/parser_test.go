package streamframe

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeFrame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	return append(lenBuf[:], b...)
}

func TestParserDecodesKnownFrameTypes(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeFrame(t, map[string]any{"type": "progress", "percent": 42.5}))
	buf.Write(encodeFrame(t, map[string]any{"type": "completion", "status": "completed"}))

	p := NewParser(&buf)

	f, ok := p.Next()
	require.True(t, ok)
	require.Equal(t, Progress{Percent: 42.5}, f)

	f, ok = p.Next()
	require.True(t, ok)
	require.Equal(t, Completion{Status: CompletionCompleted}, f)

	_, ok = p.Next()
	require.False(t, ok, "stream must end after completion frame")
	require.NoError(t, p.Err())
}

func TestParserDemotesUnrecognizedFrameToWarnLog(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeFrame(t, map[string]any{"type": "something-new", "foo": "bar"}))
	buf.Write(encodeFrame(t, map[string]any{"type": "completion", "status": "completed"}))

	p := NewParser(&buf)

	f, ok := p.Next()
	require.True(t, ok)
	log, isLog := f.(Log)
	require.True(t, isLog)
	require.Equal(t, LogWarn, log.Level)

	f, ok = p.Next()
	require.True(t, ok)
	require.Equal(t, Completion{Status: CompletionCompleted}, f)
}

func TestParserRejectsOversizedLengthPrefix(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<30)
	p := NewParser(bytes.NewReader(lenBuf[:]))

	_, ok := p.Next()
	require.False(t, ok)
	require.Error(t, p.Err())
}
