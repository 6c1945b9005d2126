package worker

import (
	"context"
	"errors"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// PeerClient forwards a Task to a peer orchestrator and treats the peer's
// response stream as the local stream. The wire transport (HTTP, gRPC, a
// message queue) is a deployment concern; this interface is the only
// contract the kernel depends on, matching the tool-protocol server being
// treated as an external collaborator exposed via registration points.
type PeerClient interface {
	Execute(ctx context.Context, t task.Task) (streamframe.Stream, error)
}

type remoteDelegateWorker struct {
	peer PeerClient
}

func newRemoteDelegateWorker(meta LauncherMetadata) (kindWorker, error) {
	peer, _ := meta["peer"].(PeerClient)
	if peer == nil {
		return nil, errors.New("remote-delegate: launcher_metadata missing PeerClient")
	}
	return &remoteDelegateWorker{peer: peer}, nil
}

func (w *remoteDelegateWorker) execute(ctx context.Context, h *Handle, t task.Task, sink frameSink) (task.Result, error) {
	start := time.Now()
	stream, err := w.peer.Execute(ctx, t)
	if err != nil {
		return task.Result{}, err
	}

	frameCount := 0
	var artifact []byte
	status := task.ResultCompleted
	for {
		f, ok := stream.Next()
		if !ok {
			break
		}
		frameCount++
		switch c := f.(type) {
		case streamframe.Completion:
			status = mapCompletionStatus(c.Status)
		case streamframe.ContentChunk:
			artifact = append(artifact, c.Bytes...)
		}
		sink.Push(f)
	}
	if stream.Err() != nil {
		status = task.ResultFailed
	}

	return task.Result{
		TaskID:               t.ID,
		WorkerID:             string(h.ID),
		Status:               status,
		Artifact:             artifact,
		Duration:             time.Since(start),
		StreamFramesConsumed: frameCount,
	}, nil
}

// cancel has no local process to kill; cancellation of a remote-delegate
// task relies on the peer honoring the deadline the task forwarded to it.
func (w *remoteDelegateWorker) cancel(h *Handle) {}

func (w *remoteDelegateWorker) close(h *Handle) error { return nil }
