package thor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Process is one running scanner invocation with captured output
// streams. It is owned by a single supervisor for the run's duration.
type Process struct {
	cmd     *exec.Cmd
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	done    chan struct{}

	mx     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
	result Result
}

// Result is the terminal state of a scanner process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Err is set for supervision-level failures (start, wait, kill on
	// cancellation), not for a plain non-zero exit.
	Err error
}

// Start launches the scanner. A non-zero timeout bounds the whole run;
// cancelling ctx kills the child.
func Start(ctx context.Context, binary string, args []string, timeout time.Duration) (*Process, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	p := &Process{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.cmd = exec.CommandContext(ctx, binary, args...)
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr

	p.started = time.Now().UTC()
	if err := p.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting scanner %s: %w", binary, err)
	}

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mx.Lock()
	p.result = Result{
		Stdout: p.stdout.String(),
		Stderr: p.stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		p.result.ExitCode = exitErr.ExitCode()
		// a kill caused by context cancellation or timeout is a
		// supervision outcome, not a scanner failure
		if ctxErr := p.ctx.Err(); ctxErr != nil {
			p.result.Err = ctxErr
		}
	default:
		p.result.ExitCode = -1
		p.result.Err = err
	}
	p.mx.Unlock()

	p.cancel()
	close(p.done)
}

// Started reports the launch time.
func (p *Process) Started() time.Time {
	return p.started
}

// Done is closed once the process has exited and its output streams
// are fully captured.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Result blocks until the process has exited and returns its terminal
// state. The wait is bounded by the process's own lifetime; callers in
// the supervision loop only reach it after Done fired.
func (p *Process) Result() Result {
	<-p.done
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.result
}
