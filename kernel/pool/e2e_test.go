package pool

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/task"
	"github.com/lesleslie/mahavishnu/kernel/worker"
)

func framedContentThenCompletion(t *testing.T, content, status string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range []map[string]any{
		{"type": "content-chunk", "bytes": []byte(content)},
		{"type": "completion", "status": status},
	} {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}
	return buf.Bytes()
}

// TestSpawnAndExecute covers the spawn-and-execute end-to-end scenario: a
// local pool runs a shell task to completion and surfaces its stdout as
// the result artifact.
func TestSpawnAndExecute(t *testing.T) {
	wm := worker.NewManager(nil, nil)
	m := NewManager(wm, nil, nil)
	cfg := Config{
		Kind:     KindLocal,
		Min:      1,
		Max:      2,
		Strategy: StrategyRoundRobin,
		SpawnMeta: func(slot int) worker.LauncherMetadata {
			return worker.LauncherMetadata{
				"launcher":         shellEchoLauncher{t: t},
				"command_template": "echo hi",
			}
		},
	}
	p, err := m.CreatePool(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, p.CurrentSize())

	tk := task.Task{ID: "t1", Kind: task.KindShell, Payload: task.Payload{Raw: []byte("echo hi")}, Deadline: time.Now().Add(5 * time.Second)}
	res, err := m.Execute(context.Background(), p, tk)
	require.NoError(t, err)
	require.Equal(t, task.ResultCompleted, res.Status)
	require.Contains(t, string(res.Artifact), "hi")
	require.Equal(t, 1, p.CurrentSize())
}

type shellEchoLauncher struct{ t *testing.T }

func (l shellEchoLauncher) Launch(ctx context.Context, cmd string, stdin []byte) (worker.Process, error) {
	return &scriptedProcess{stdout: bytes.NewReader(framedContentThenCompletion(l.t, "hi", "completed"))}, nil
}

type scriptedProcess struct{ stdout io.Reader }

func (p *scriptedProcess) Stdout() io.Reader { return p.stdout }
func (p *scriptedProcess) Stderr() io.Reader { return bytes.NewReader(nil) }
func (p *scriptedProcess) Wait() error       { return nil }
func (p *scriptedProcess) Kill() error       { return nil }

// TestOverload covers the overload end-to-end scenario: a min=max=1 pool
// with a depth-2 queue (max_workers*2) admits two in-flight/queued tasks
// beyond the one running, and rejects a fourth with Overloaded.
func TestOverload(t *testing.T) {
	wm := worker.NewManager(nil, nil)
	m := NewManager(wm, nil, nil)
	cfg := Config{
		Kind:     KindLocal,
		Min:      1,
		Max:      1,
		Strategy: StrategyRoundRobin,
		SpawnMeta: func(slot int) worker.LauncherMetadata {
			return worker.LauncherMetadata{"launcher": blockingLauncher{}, "command_template": "noop"}
		},
	}
	p, err := m.CreatePool(context.Background(), cfg)
	require.NoError(t, err)

	// The single worker never frees up (its process never closes stdout),
	// so the first call occupies it and the next two fill the depth-2
	// queue (max_workers*2); all three are bounded by a short caller
	// context so their goroutines unwind once the test has made its
	// assertion, rather than leaking past it.
	submit := func(i int) {
		callCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, _ = m.Execute(callCtx, p, task.Task{
			ID:       task.ID(string(rune('a' + i))),
			Deadline: time.Now().Add(10 * time.Second),
		})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); submit(0) }()
	// Let the first call clear the worker-selection race window before
	// the next two arrive so they observe the worker as busy and queue,
	// rather than racing the first for the same idle slot.
	time.Sleep(10 * time.Millisecond)
	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) { defer wg.Done(); submit(i) }(i)
	}

	time.Sleep(50 * time.Millisecond)
	_, fourthErr := m.Execute(context.Background(), p, task.Task{ID: "d", Deadline: time.Now().Add(10 * time.Second)})
	var overloaded *kernel.Overloaded
	require.ErrorAs(t, fourthErr, &overloaded)

	wg.Wait()
}

// blockingLauncher launches a process whose stdout stays open until
// Kill'd, so the one worker in TestOverload's pool stays running (and the
// queue stays full) until the caller's deadline forces cancellation.
type blockingLauncher struct{}

func (blockingLauncher) Launch(ctx context.Context, cmd string, stdin []byte) (worker.Process, error) {
	r, w := io.Pipe()
	return &killableProcess{r: r, w: w}, nil
}

type killableProcess struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *killableProcess) Stdout() io.Reader { return p.r }
func (p *killableProcess) Stderr() io.Reader { return bytes.NewReader(nil) }
func (p *killableProcess) Wait() error       { return nil }
func (p *killableProcess) Kill() error       { return p.w.Close() }

// TestCancellation covers the cancellation end-to-end scenario: cancelling
// a long-deadline task in flight yields Result{status=cancelled} and
// returns the worker to idle.
func TestCancellation(t *testing.T) {
	wm := worker.NewManager(nil, nil)
	proc := newCooperativeProcess(t)
	h, err := wm.Spawn(context.Background(), worker.KindSubprocessAI, worker.LauncherMetadata{
		"launcher":         cooperativeLauncher{proc: proc},
		"command_template": "noop",
	})
	require.NoError(t, err)

	tk := task.Task{ID: "c1", Deadline: time.Now().Add(60 * time.Second)}
	done := make(chan task.Result, 1)
	go func() {
		res, _ := wm.Execute(context.Background(), h, tk)
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	wm.Cancel(context.Background(), h)

	select {
	case res := <-done:
		require.Equal(t, task.ResultCancelled, res.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not produce a result within 5s")
	}
	require.Eventually(t, func() bool { return h.State() == worker.StateIdle }, time.Second, 10*time.Millisecond)
}

// cooperativeProcess models a process that, on Kill, writes a framed
// completion(cancelled) frame to its own stdout before going quiet, the
// way a well-behaved subprocess-ai worker handles SIGTERM.
type cooperativeProcess struct {
	t *testing.T
	r *io.PipeReader
	w *io.PipeWriter
}

func newCooperativeProcess(t *testing.T) *cooperativeProcess {
	r, w := io.Pipe()
	return &cooperativeProcess{t: t, r: r, w: w}
}

func (p *cooperativeProcess) Stdout() io.Reader { return p.r }
func (p *cooperativeProcess) Stderr() io.Reader { return bytes.NewReader(nil) }
func (p *cooperativeProcess) Wait() error       { return nil }
func (p *cooperativeProcess) Kill() error {
	go func() {
		_, _ = p.w.Write(framedContentThenCompletion(p.t, "", "cancelled"))
		_ = p.w.Close()
	}()
	return nil
}

type cooperativeLauncher struct{ proc *cooperativeProcess }

func (l cooperativeLauncher) Launch(ctx context.Context, cmd string, stdin []byte) (worker.Process, error) {
	return l.proc, nil
}
