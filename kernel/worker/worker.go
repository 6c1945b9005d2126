// Package worker implements the Worker Manager: a uniform contract for
// launching a worker of any supported kind and driving it to a Result.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/lesleslie/mahavishnu/kernel/streamframe"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

// ID strongly types a worker identifier.
type ID string

// Kind enumerates the supported worker kinds. This is a sealed set: adding
// a kind touches this file and the spawn factory in manager.go, never an
// open interface hierarchy.
type Kind string

const (
	KindSubprocessAI   Kind = "subprocess-ai"
	KindContainer      Kind = "container"
	KindRemoteDelegate Kind = "remote-delegate"
	KindDebugMonitor   Kind = "debug-monitor"
)

// State is the worker's position in the state machine described by the
// transition diagram this package implements (see Handle.transition).
type State string

const (
	StateStarting   State = "starting"
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateFaulted    State = "faulted"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// LauncherMetadata carries kind-specific spawn parameters (command
// template, container image spec, peer endpoint, ...). The worker manager
// treats it as opaque and hands it to the matching kind implementation.
type LauncherMetadata map[string]any

// Handle is a Worker: a handle to one execution resource, exclusively
// owned by one Pool. Handle is the boundary the pool manager interacts
// with; the kind-specific execution logic lives in subprocess.go,
// container.go, remote.go and debugmonitor.go.
type Handle struct {
	ID              ID
	Kind            Kind
	SpawnTime       time.Time
	LauncherMeta    LauncherMetadata

	mu            sync.RWMutex
	state         State
	currentTaskID task.ID
	lastTaskEnd   time.Time
	stderrTail    *ringBuffer
	kindImpl      kindWorker
}

// kindWorker is the small capability set every worker kind implements:
// execute, health (implicit via State), close. This mirrors the "sealed
// set of variants plus a small capability set" modeling the rest of this
// kernel uses for dynamic-dispatch-over-kinds concerns.
type kindWorker interface {
	// execute drives t to completion, writing frames to sink as they are
	// produced, and returns the terminal Result.
	execute(ctx context.Context, h *Handle, t task.Task, sink frameSink) (task.Result, error)
	// cancel requests the in-flight task stop; idempotent.
	cancel(h *Handle)
	// close releases kind-specific resources; idempotent.
	close(h *Handle) error
}

// frameSink receives frames as a worker produces them. The worker manager
// implements this with a buffered channel-backed Stream.
type frameSink interface {
	Push(streamframe.Frame)
}

// State returns the worker's current state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// CurrentTaskID returns the task currently owned by this worker, or "" if
// idle.
func (h *Handle) CurrentTaskID() task.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.currentTaskID
}

// LastTaskEnd returns when h's most recent Execute call returned, or the
// zero Time if it has never run a task. selectLeastLoaded and
// idleScaleDownVictims use this to order idle workers by recent activity.
func (h *Handle) LastTaskEnd() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTaskEnd
}

// StderrTail returns the bounded ring buffer of stderr output, if the
// kind implementation populates one (subprocess-ai only).
func (h *Handle) StderrTail() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stderrTail == nil {
		return nil
	}
	return h.stderrTail.bytes()
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// transition enforces the state machine diagram from the worker lifecycle
// design: a worker never re-enters starting after leaving it, and faulted
// is sticky until close.
func (h *Handle) transition(from []State, to State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok := false
	for _, f := range from {
		if h.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	h.state = to
	return true
}
