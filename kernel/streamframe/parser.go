package streamframe

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// parserState names the three states of the frame decoder.
type parserState int

const (
	stateAwaitingFrameBoundary parserState = iota
	stateAccumulatingFrame
	stateDrainingAfterCompletion
)

// wireFrame is the length-delimited JSON shape a worker writes to stdout:
// a 4-byte big-endian length prefix followed by a JSON object
// {"type": "...", ...fields}.
type wireFrame struct {
	Type    string          `json:"type"`
	Bytes   []byte          `json:"bytes,omitempty"`
	Name    string          `json:"name,omitempty"`
	Args    map[string]any  `json:"args,omitempty"`
	Percent float64         `json:"percent,omitempty"`
	Status  string          `json:"status,omitempty"`
	Level   string          `json:"level,omitempty"`
	Text    string          `json:"text,omitempty"`
}

const maxFrameBytes = 16 << 20 // 16 MiB guards against a corrupt length prefix

// Parser decodes a worker's framed stdout into Frame values. It implements
// the Stream interface so callers consume it exactly like any other
// output stream.
type Parser struct {
	r     *bufio.Reader
	state parserState
	err   error
	done  bool
}

// NewParser wraps r, a worker's raw stdout, as a frame Stream.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReader(r), state: stateAwaitingFrameBoundary}
}

// Next implements Stream. A parse error sets the parser's terminal error
// (see Err) and ends the stream; the subprocess-ai worker converts it to a
// synthetic Completion{Failed} frame and a failed Result rather than
// propagating the raw error.
func (p *Parser) Next() (Frame, bool) {
	if p.done {
		return nil, false
	}
	switch p.state {
	case stateDrainingAfterCompletion:
		p.done = true
		return nil, false
	}

	p.state = stateAccumulatingFrame
	var lenBuf [4]byte
	if _, err := io.ReadFull(p.r, lenBuf[:]); err != nil {
		p.done = true
		if !errors.Is(err, io.EOF) {
			p.err = err
		}
		return nil, false
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameBytes {
		p.err = errors.New("streamframe: invalid frame length")
		p.done = true
		return nil, false
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		p.err = err
		p.done = true
		return nil, false
	}

	var wf wireFrame
	if err := json.Unmarshal(buf, &wf); err != nil {
		// Unrecognized/malformed records are demoted to a warn log frame
		// rather than aborting the stream.
		p.state = stateAwaitingFrameBoundary
		return Log{Level: LogWarn, Text: string(buf)}, true
	}

	frame, ok := toFrame(wf, buf)
	if !ok {
		p.state = stateAwaitingFrameBoundary
		return Log{Level: LogWarn, Text: string(buf)}, true
	}
	if _, isCompletion := frame.(Completion); isCompletion {
		p.state = stateDrainingAfterCompletion
	} else {
		p.state = stateAwaitingFrameBoundary
	}
	return frame, true
}

// Err returns the terminal parse error, if any, after Next has returned
// (nil, false).
func (p *Parser) Err() error { return p.err }

func toFrame(wf wireFrame, raw []byte) (Frame, bool) {
	switch wf.Type {
	case "content-chunk":
		return ContentChunk{Bytes: wf.Bytes}, true
	case "tool-call":
		return ToolCall{Name: wf.Name, Args: wf.Args}, true
	case "progress":
		return Progress{Percent: wf.Percent}, true
	case "completion":
		return Completion{Status: CompletionStatus(wf.Status)}, true
	case "log":
		return Log{Level: LogLevel(wf.Level), Text: wf.Text}, true
	default:
		return nil, false
	}
}

var _ Stream = (*Parser)(nil)
