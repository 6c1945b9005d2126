package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// ContainerRuntime is the opaque container runtime collaborator: starting
// a container from an image spec, executing a command inside it, and
// tearing it down. A concrete implementation (Docker, containerd, a cloud
// container API) satisfies this narrow interface.
type ContainerRuntime interface {
	ImageAvailable(ctx context.Context, image string) (bool, error)
	Start(ctx context.Context, image string) (Container, error)
}

// Container is a running container handle.
type Container interface {
	Exec(ctx context.Context, command string, stdin []byte) (streamframe.Stream, error)
	Stop(ctx context.Context) error
}

const maxTransientRetries = 3

type containerWorker struct {
	runtime ContainerRuntime
	image   string
	command string

	container Container
	retries   int
}

func newContainerWorker(meta LauncherMetadata) (kindWorker, error) {
	runtime, _ := meta["runtime"].(ContainerRuntime)
	if runtime == nil {
		return nil, errors.New("container: launcher_metadata missing ContainerRuntime")
	}
	image, _ := meta["image"].(string)
	if image == "" {
		return nil, errors.New("container: launcher_metadata missing image")
	}
	command, _ := meta["command"].(string)
	return &containerWorker{runtime: runtime, image: image, command: command}, nil
}

// precheck implements prechecker: worker spawn is preceded by an
// image-availability check.
func (w *containerWorker) precheck(ctx context.Context) error {
	ok, err := w.runtime.ImageAvailable(ctx, w.image)
	if err != nil {
		return &transientErr{err}
	}
	if !ok {
		return fmt.Errorf("container: image %q not available", w.image)
	}
	return nil
}

func (w *containerWorker) execute(ctx context.Context, h *Handle, t task.Task, sink frameSink) (task.Result, error) {
	start := time.Now()
	if w.container == nil {
		c, err := w.startWithRetry(ctx)
		if err != nil {
			return task.Result{}, err
		}
		w.container = c
	}

	stream, err := w.container.Exec(ctx, w.command, t.Payload.Raw)
	if err != nil {
		return task.Result{}, fmt.Errorf("container: exec: %w", err)
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

func (w *containerWorker) startWithRetry(ctx context.Context) (Container, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		c, err := w.runtime.Start(ctx, w.image)
		if err == nil {
			return c, nil
		}
		lastErr = err
		w.retries++
	}
	return nil, fmt.Errorf("container: start failed after %d attempts: %w", maxTransientRetries+1, lastErr)
}

func (w *containerWorker) cancel(h *Handle) {
	if w.container != nil {
		_ = w.container.Stop(context.Background())
	}
}

func (w *containerWorker) close(h *Handle) error {
	if w.container == nil {
		return nil
	}
	err := w.container.Stop(context.Background())
	w.container = nil
	return err
}
