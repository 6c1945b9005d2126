package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
	"github.com/lesleslie/mahavishnu/kernel/telemetry"
)

// drainTimeout bounds how long Execute, after cancelling a task that
// passed its deadline, waits for the task to produce a Result before
// forcing the worker to faulted.
const drainTimeout = 5 * time.Second

// Manager presents the uniform worker contract described by the Worker
// Manager responsibility: spawn, execute, cancel, close, stream.
type Manager struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu      sync.RWMutex
	streams map[ID]*chanStream
}

// NewManager constructs a Manager. A nil logger/metrics defaults to a
// no-op implementation.
func NewManager(logger telemetry.Logger, metrics telemetry.Metrics) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Manager{logger: logger, metrics: metrics, streams: make(map[ID]*chanStream)}
}

// Spawn launches a worker of the given kind. It fails with *kernel.SpawnError
// if meta is invalid for kind or the kind's availability precheck fails.
func (m *Manager) Spawn(ctx context.Context, kind Kind, meta LauncherMetadata) (*Handle, error) {
	impl, err := newKindWorker(kind, meta)
	if err != nil {
		return nil, &kernel.SpawnError{Kind: kernel.SpawnPermanent, Err: err}
	}

	h := &Handle{
		ID:           ID(uuid.NewString()),
		Kind:         kind,
		SpawnTime:    time.Now(),
		LauncherMeta: meta,
		state:        StateStarting,
		kindImpl:     impl,
	}
	if kind == KindSubprocessAI {
		h.stderrTail = newRingBuffer(4096)
	}

	if spawner, ok := impl.(prechecker); ok {
		if err := spawner.precheck(ctx); err != nil {
			return nil, classifySpawnErr(err)
		}
	}

	h.setState(StateIdle)
	m.logger.Info(ctx, "worker spawned", "worker_id", string(h.ID), "kind", string(kind))
	m.metrics.IncCounter("worker.spawn", 1, "kind", string(kind))
	return h, nil
}

// prechecker is implemented by kind workers that need to validate
// availability before the handle transitions out of starting (e.g.
// container image-availability checks).
type prechecker interface {
	precheck(ctx context.Context) error
}

func classifySpawnErr(err error) error {
	if te, ok := err.(*transientErr); ok {
		return &kernel.SpawnError{Kind: kernel.SpawnTransient, Err: te.err}
	}
	return &kernel.SpawnError{Kind: kernel.SpawnPermanent, Err: err}
}

// transientErr marks a spawn failure as retryable.
type transientErr struct{ err error }

func (e *transientErr) Error() string { return e.err.Error() }

// Execute runs t on h and returns its terminal Result. Preconditions:
// h.State() == idle and t.Deadline is in the future; violating the first
// precondition returns kernel.ErrBusy without mutating h.
func (m *Manager) Execute(ctx context.Context, h *Handle, t task.Task) (task.Result, error) {
	if t.Expired(time.Now()) {
		return task.Result{TaskID: t.ID, WorkerID: string(h.ID), Status: task.ResultTimedOut}, nil
	}
	if !h.transition([]State{StateIdle}, StateRunning) {
		return task.Result{}, kernel.ErrBusy
	}
	h.mu.Lock()
	h.currentTaskID = t.ID
	h.mu.Unlock()

	m.mu.Lock()
	stream := newChanStream(32)
	m.streams[h.ID] = stream
	m.mu.Unlock()

	deadlineCtx, cancel := context.WithDeadline(ctx, t.Deadline)
	defer cancel()

	type execResult struct {
		res task.Result
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		res, err := h.kindImpl.execute(deadlineCtx, h, t, stream)
		stream.Close()
		done <- execResult{res, err}
	}()

	select {
	case r := <-done:
		h.mu.Lock()
		h.currentTaskID = ""
		h.lastTaskEnd = time.Now()
		h.mu.Unlock()
		if r.err != nil {
			h.setState(StateFaulted)
			return r.res, r.err
		}
		h.transition([]State{StateRunning, StateCancelling}, StateIdle)
		return r.res, nil
	case <-deadlineCtx.Done():
		h.kindImpl.cancel(h)
		select {
		case r := <-done:
			h.mu.Lock()
			h.currentTaskID = ""
			h.lastTaskEnd = time.Now()
			h.mu.Unlock()
			h.transition([]State{StateRunning, StateCancelling}, StateIdle)
			res := r.res
			res.Status = task.ResultTimedOut
			return res, nil
		case <-time.After(drainTimeout):
			h.setState(StateFaulted)
			return task.Result{TaskID: t.ID, WorkerID: string(h.ID), Status: task.ResultTimedOut}, nil
		}
	}
}

// Cancel requests the current task (if any) stop. Idempotent.
func (m *Manager) Cancel(ctx context.Context, h *Handle) {
	if !h.transition([]State{StateRunning}, StateCancelling) {
		return
	}
	h.kindImpl.cancel(h)
}

// Close releases h's resources, transitioning starting→closing→closed (or
// any state→closing→closed). Idempotent.
func (m *Manager) Close(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	if h.state == StateClosed || h.state == StateClosing {
		h.mu.Unlock()
		return nil
	}
	h.state = StateClosing
	h.mu.Unlock()

	err := h.kindImpl.close(h)
	h.setState(StateClosed)

	m.mu.Lock()
	delete(m.streams, h.ID)
	m.mu.Unlock()

	m.logger.Info(ctx, "worker closed", "worker_id", string(h.ID))
	return err
}

// Stream returns the finite, non-restartable frame stream for h's most
// recent Execute call, or false if none is active.
func (m *Manager) Stream(h *Handle) (streamframe.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[h.ID]
	return s, ok
}

func newKindWorker(kind Kind, meta LauncherMetadata) (kindWorker, error) {
	switch kind {
	case KindSubprocessAI:
		return newSubprocessWorker(meta)
	case KindContainer:
		return newContainerWorker(meta)
	case KindRemoteDelegate:
		return newRemoteDelegateWorker(meta)
	case KindDebugMonitor:
		return newDebugMonitorWorker(meta)
	default:
		return nil, fmt.Errorf("worker: unknown kind %q", kind)
	}
}
