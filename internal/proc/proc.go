// Package proc tracks the single external process a run is waiting on and
// can kill it together with everything it spawned.
//
// OCRmyPDF forks tesseract, ghostscript, unpaper and friends. Signalling only
// the parent leaves those children running with open handles on the run's
// scratch files, so every command started here gets its own process group
// and termination always targets the whole group.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrBusy is returned when a second process is started while one is tracked.
var ErrBusy = errors.New("proc: another process is already active")

// maxLine bounds a single diagnostic line. Tesseract occasionally dumps very
// long parameter lists on one line.
const maxLine = 1024 * 1024

// killGrace is how long a terminated group gets before SIGKILL.
var killGrace = 3 * time.Second

// LineFunc receives one line of process output without its trailing newline.
type LineFunc func(line string)

// Handle is a tracked process. It is registered before the process starts so
// a termination request can never slip between start and registration.
type Handle struct {
	cmd     *exec.Cmd
	started chan struct{}
	done    chan struct{}
	once    sync.Once
	killReq atomic.Bool
}

// pid is only valid once started is closed.
func (h *Handle) pid() int { return h.cmd.Process.Pid }

func (h *Handle) finish() { h.once.Do(func() { close(h.done) }) }

// Tracker holds at most one active process. The zero value is ready to use.
// Terminate may be called from any goroutine while Run blocks in another.
type Tracker struct {
	active atomic.Pointer[Handle]
}

// Active reports whether a process is currently tracked.
func (t *Tracker) Active() bool { return t.active.Load() != nil }

// Run starts cmd in its own process group, streams stdout and stderr line by
// line to the given callbacks while it runs, and waits for it to exit. The
// returned error is the command's exit error (an *exec.ExitError for a
// non-zero status) or a start/pipe error.
//
// If cmd was built with exec.CommandContext, cancelling the context kills the
// whole process tree rather than just the parent.
func (t *Tracker) Run(cmd *exec.Cmd, onStdout, onStderr LineFunc) error {
	configureGroup(cmd)
	h := &Handle{cmd: cmd, started: make(chan struct{}), done: make(chan struct{})}
	if cmd.Cancel != nil {
		cmd.Cancel = func() error { return killTree(h) }
		cmd.WaitDelay = killGrace + time.Second
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if !t.active.CompareAndSwap(nil, h) {
		return ErrBusy
	}
	defer func() {
		h.finish()
		t.active.CompareAndSwap(h, nil)
	}()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	close(h.started)
	if h.killReq.Load() {
		_ = killTree(h)
	}

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdout, onStdout) })
	g.Go(func() error { return scanLines(stderr, onStderr) })
	readErr := g.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	return readErr
}

// Terminate kills the tracked process and all of its descendants. It is a
// no-op when nothing is running and safe to call repeatedly.
func (t *Tracker) Terminate() error {
	h := t.active.Load()
	if h == nil {
		return nil
	}
	h.killReq.Store(true)
	select {
	case <-h.started:
		return killTree(h)
	default:
		// Run kills the tree as soon as the process exists.
		return nil
	}
}

func scanLines(r io.Reader, fn LineFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if fn != nil {
			fn(sc.Text())
		}
	}
	if err := sc.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
