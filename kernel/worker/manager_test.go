package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lesleslie/mahavishnu/kernel"
	"github.com/lesleslie/mahavishnu/kernel/task"
)

type fakeProcess struct {
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	killed bool
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return p.stderr }
func (p *fakeProcess) Wait() error       { return nil }
func (p *fakeProcess) Kill() error       { p.killed = true; return nil }

type fakeLauncher struct {
	proc *fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context, cmd string, stdin []byte) (Process, error) {
	return l.proc, nil
}

func framedCompletion(t *testing.T, status string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"type": "completion", "status": status})
	require.NoError(t, err)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	return append(lenBuf[:], b...)
}

func TestManagerSpawnExecuteCompletes(t *testing.T) {
	proc := &fakeProcess{
		stdout: bytes.NewBuffer(framedCompletion(t, "completed")),
		stderr: bytes.NewBuffer(nil),
	}
	meta := LauncherMetadata{"launcher": &fakeLauncher{proc: proc}, "command_template": "echo hi"}

	m := NewManager(nil, nil)
	h, err := m.Spawn(context.Background(), KindSubprocessAI, meta)
	require.NoError(t, err)
	require.Equal(t, StateIdle, h.State())

	tk := task.Task{ID: "t1", Deadline: time.Now().Add(5 * time.Second)}
	res, err := m.Execute(context.Background(), h, tk)
	require.NoError(t, err)
	require.Equal(t, task.ResultCompleted, res.Status)
	require.Equal(t, StateIdle, h.State())
}

func TestManagerExecuteBusyWorkerReturnsErrBusy(t *testing.T) {
	proc := &fakeProcess{stdout: bytes.NewBuffer(nil), stderr: bytes.NewBuffer(nil)}
	meta := LauncherMetadata{"launcher": &fakeLauncher{proc: proc}, "command_template": "sleep"}
	m := NewManager(nil, nil)
	h, err := m.Spawn(context.Background(), KindSubprocessAI, meta)
	require.NoError(t, err)

	h.setState(StateRunning)
	_, err = m.Execute(context.Background(), h, task.Task{ID: "t2", Deadline: time.Now().Add(time.Second)})
	require.ErrorIs(t, err, kernel.ErrBusy)
}

func TestManagerExecutePastDeadlineYieldsTimedOutWithoutDispatch(t *testing.T) {
	proc := &fakeProcess{stdout: bytes.NewBuffer(nil), stderr: bytes.NewBuffer(nil)}
	meta := LauncherMetadata{"launcher": &fakeLauncher{proc: proc}, "command_template": "noop"}
	m := NewManager(nil, nil)
	h, err := m.Spawn(context.Background(), KindSubprocessAI, meta)
	require.NoError(t, err)

	res, err := m.Execute(context.Background(), h, task.Task{ID: "t3", Deadline: time.Now().Add(-time.Second)})
	require.NoError(t, err)
	require.Equal(t, task.ResultTimedOut, res.Status)
	require.Equal(t, StateIdle, h.State(), "worker must not dispatch an already-expired task")
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	proc := &fakeProcess{stdout: bytes.NewBuffer(nil), stderr: bytes.NewBuffer(nil)}
	meta := LauncherMetadata{"launcher": &fakeLauncher{proc: proc}, "command_template": "noop"}
	m := NewManager(nil, nil)
	h, err := m.Spawn(context.Background(), KindSubprocessAI, meta)
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background(), h))
	require.NoError(t, m.Close(context.Background(), h))
	require.Equal(t, StateClosed, h.State())
}
