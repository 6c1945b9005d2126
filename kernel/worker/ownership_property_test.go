package worker

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lesleslie/mahavishnu/kernel/task"
)

type blockingProcess struct {
	r       *io.PipeReader
	w       *io.PipeWriter
	stderrR *io.PipeReader
}

func newBlockingProcess() *blockingProcess {
	r, w := io.Pipe()
	stderrR, stderrW := io.Pipe()
	_ = stderrW.Close() // drainStderr's Read returns EOF immediately
	return &blockingProcess{r: r, w: w, stderrR: stderrR}
}

func (p *blockingProcess) Stdout() io.Reader { return p.r }
func (p *blockingProcess) Stderr() io.Reader { return p.stderrR }
func (p *blockingProcess) Wait() error       { return nil }
func (p *blockingProcess) Kill() error       { return p.w.Close() }

type blockingLauncher struct{ proc *blockingProcess }

func (l *blockingLauncher) Launch(ctx context.Context, cmd string, stdin []byte) (Process, error) {
	return l.proc, nil
}

// TestAtMostOneTaskOwnsWorkerAtOnceProperty verifies the quantified
// invariant: for any worker w, at every observable instant,
// |{t : t.current_worker = w}| <= 1.
//
// A burst of concurrent Execute calls races against one worker whose
// process blocks until released; exactly one call may observe the
// worker transition idle->running, every other call must be rejected
// with ErrBusy without ever touching h.currentTaskID.
func TestAtMostOneTaskOwnsWorkerAtOnceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one concurrent Execute wins ownership of a worker", prop.ForAll(
		func(n int) bool {
			m := NewManager(nil, nil)
			proc := newBlockingProcess()
			h, err := m.Spawn(context.Background(), KindSubprocessAI, LauncherMetadata{
				"launcher":         &blockingLauncher{proc: proc},
				"command_template": "noop",
			})
			if err != nil {
				return false
			}
			h.setState(StateIdle)

			var wg sync.WaitGroup
			var winners int64
			for i := 0; i < n; i++ {
				i := i
				wg.Add(1)
				go func() {
					defer wg.Done()
					tk := task.Task{ID: task.ID(string(rune('a' + i%26))), Deadline: time.Now().Add(time.Minute)}
					_, err := m.Execute(context.Background(), h, tk)
					if err == nil {
						atomic.AddInt64(&winners, 1)
					}
				}()
			}

			// Give every goroutine a chance to attempt the transition before
			// releasing the blocked process so the running worker's window
			// stays open long enough for the race to be meaningful.
			time.Sleep(20 * time.Millisecond)
			_ = proc.w.Close()
			wg.Wait()

			return winners <= 1
		},
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
