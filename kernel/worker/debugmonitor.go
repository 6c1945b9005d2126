package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// ScreenSnapshotter captures the opaque terminal screen content a
// debug-monitor worker records. The terminal multiplexer control surface
// itself is an external collaborator; this is the narrow capture contract
// the kernel depends on.
type ScreenSnapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// MemoryWriter is the subset of a pool's memory handle a debug-monitor
// worker needs to persist snapshots.
type MemoryWriter interface {
	Put(ctx context.Context, key string, value []byte) error
}

const (
	debugMonitorInterval = time.Second
	debugMonitorJitter   = 100 * time.Millisecond
)

type debugMonitorWorker struct {
	snapshotter ScreenSnapshotter
	memory      MemoryWriter

	closed chan struct{}
}

func newDebugMonitorWorker(meta LauncherMetadata) (kindWorker, error) {
	snap, _ := meta["snapshotter"].(ScreenSnapshotter)
	if snap == nil {
		return nil, errors.New("debug-monitor: launcher_metadata missing ScreenSnapshotter")
	}
	mem, _ := meta["memory"].(MemoryWriter)
	if mem == nil {
		return nil, errors.New("debug-monitor: launcher_metadata missing MemoryWriter")
	}
	return &debugMonitorWorker{snapshotter: snap, memory: mem, closed: make(chan struct{})}, nil
}

// execute produces no Result until close is called; it snapshots on a
// jittered ~1s cadence and writes each snapshot to the pool's memory
// handle, then emits completion(completed) once closed.
func (w *debugMonitorWorker) execute(ctx context.Context, h *Handle, t task.Task, sink frameSink) (task.Result, error) {
	start := time.Now()
	count := 0
	for {
		jitter := time.Duration(rand.Int64N(int64(2*debugMonitorJitter))) - debugMonitorJitter
		timer := time.NewTimer(debugMonitorInterval + jitter)
		select {
		case <-timer.C:
			snap, err := w.snapshotter.Snapshot(ctx)
			if err == nil {
				_ = w.memory.Put(ctx, string(t.ID), snap)
				sink.Push(streamframe.ContentChunk{Bytes: snap})
				count++
			}
		case <-w.closed:
			timer.Stop()
			sink.Push(streamframe.Completion{Status: streamframe.CompletionCompleted})
			return task.Result{
				TaskID:               t.ID,
				WorkerID:             string(h.ID),
				Status:               task.ResultCompleted,
				Duration:             time.Since(start),
				StreamFramesConsumed: count + 1,
			}, nil
		case <-ctx.Done():
			timer.Stop()
			sink.Push(streamframe.Completion{Status: streamframe.CompletionTimedOut})
			return task.Result{
				TaskID:               t.ID,
				WorkerID:             string(h.ID),
				Status:               task.ResultTimedOut,
				Duration:             time.Since(start),
				StreamFramesConsumed: count + 1,
			}, nil
		}
	}
}

func (w *debugMonitorWorker) cancel(h *Handle) {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
}

func (w *debugMonitorWorker) close(h *Handle) error {
	w.cancel(h)
	return nil
}
