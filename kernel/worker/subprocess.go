package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// ProcessLauncher starts the opaque child process behind a subprocess-ai
// worker. It is treated as an external collaborator: the actual terminal
// multiplexer / process supervision surface is out of scope for this
// kernel and is injected here so tests can substitute a fake.
type ProcessLauncher interface {
	Launch(ctx context.Context, commandTemplate string, stdin []byte) (Process, error)
}

// Process is the running child process handle a ProcessLauncher returns.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
	Kill() error
}

type subprocessWorker struct {
	launcher ProcessLauncher
	command  string

	proc Process
}

func newSubprocessWorker(meta LauncherMetadata) (kindWorker, error) {
	launcher, _ := meta["launcher"].(ProcessLauncher)
	if launcher == nil {
		return nil, errors.New("subprocess-ai: launcher_metadata missing ProcessLauncher")
	}
	command, _ := meta["command_template"].(string)
	if command == "" {
		return nil, errors.New("subprocess-ai: launcher_metadata missing command_template")
	}
	return &subprocessWorker{launcher: launcher, command: command}, nil
}

func (w *subprocessWorker) execute(ctx context.Context, h *Handle, t task.Task, sink frameSink) (task.Result, error) {
	start := time.Now()
	proc, err := w.launcher.Launch(ctx, w.command, t.Payload.Raw)
	if err != nil {
		return task.Result{}, fmt.Errorf("subprocess-ai: launch: %w", err)
	}
	w.proc = proc

	go drainStderr(proc.Stderr(), h.stderrTail)

	parser := streamframe.NewParser(proc.Stdout())
	frameCount := 0
	var artifact []byte
	var lastCompletion *streamframe.Completion
	for {
		f, ok := parser.Next()
		if !ok {
			break
		}
		frameCount++
		switch c := f.(type) {
		case streamframe.Completion:
			cc := c
			lastCompletion = &cc
		case streamframe.ContentChunk:
			artifact = append(artifact, c.Bytes...)
		}
		sink.Push(f)
	}

	waitErr := proc.Wait()
	status := task.ResultCompleted
	switch {
	case parser.Err() != nil:
		status = task.ResultFailed
		sink.Push(streamframe.Completion{Status: streamframe.CompletionFailed})
	case lastCompletion != nil:
		status = mapCompletionStatus(lastCompletion.Status)
	case waitErr != nil:
		status = task.ResultFailed
	}

	return task.Result{
		TaskID:               t.ID,
		WorkerID:             string(h.ID),
		Status:               status,
		Artifact:             artifact,
		StderrTail:           h.StderrTail(),
		Duration:             time.Since(start),
		StreamFramesConsumed: frameCount,
	}, nil
}

func (w *subprocessWorker) cancel(h *Handle) {
	if w.proc != nil {
		_ = w.proc.Kill()
	}
}

func (w *subprocessWorker) close(h *Handle) error {
	if w.proc != nil {
		return w.proc.Kill()
	}
	return nil
}

func drainStderr(r io.Reader, tail *ringBuffer) {
	if r == nil || tail == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			tail.write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func mapCompletionStatus(s streamframe.CompletionStatus) task.ResultStatus {
	switch s {
	case streamframe.CompletionCompleted:
		return task.ResultCompleted
	case streamframe.CompletionFailed:
		return task.ResultFailed
	case streamframe.CompletionTimedOut:
		return task.ResultTimedOut
	case streamframe.CompletionCancelled:
		return task.ResultCancelled
	default:
		return task.ResultFailed
	}
}
