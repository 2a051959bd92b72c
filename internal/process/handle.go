// Package process spawns external commands and owns their lifetime. Every
// command runs under /bin/sh in its own process group so that terminating a
// handle takes the whole tree down with it.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Stream identifies which output pipe a line came from
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Shell exit codes that mean the command itself could not be launched
const (
	ExitNotExecutable = 126
	ExitNotFound      = 127
)

const (
	// DefaultGrace is how long a process may take to exit after SIGTERM
	DefaultGrace = 2 * time.Second
	killWait     = 5 * time.Second
	maxLineSize  = 1024 * 1024

	// outputDrain bounds how long output is read after the shell exits while
	// a leftover descendant still holds the pipes
	outputDrain = 500 * time.Millisecond
)

// Options configures Start
type Options struct {
	Owner string
	Shell string // defaults to /bin/sh
	Dir   string
	Env   []string

	// OnLine, when set, receives output one line at a time instead of it
	// being buffered. Lines of one stream arrive in order; stdout and stderr
	// are read concurrently.
	OnLine func(stream Stream, line string)

	// OnExit is called once with the exit code, before Done is closed
	OnExit func(code int)

	Logger hclog.Logger
}

// Handle is an owned, running external process
type Handle struct {
	ID        string
	Owner     string
	Command   string
	StartedAt time.Time

	cmd    *exec.Cmd
	onExit func(int)
	logger hclog.Logger
	done   chan struct{}

	stdout      bytes.Buffer
	stderr      bytes.Buffer
	stdoutLines *lineWriter
	stderrLines *lineWriter
	exitCode    int

	terminateMu sync.Mutex
}

// Start launches command and returns once the process exists
func Start(command string, opts Options) (*Handle, error) {
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = outputDrain

	h := &Handle{
		ID:      uuid.NewString(),
		Owner:   opts.Owner,
		Command: command,
		cmd:     cmd,
		onExit:  opts.OnExit,
		done:    make(chan struct{}),
	}
	if opts.OnLine != nil {
		h.stdoutLines = &lineWriter{stream: Stdout, emit: opts.OnLine}
		h.stderrLines = &lineWriter{stream: Stderr, emit: opts.OnLine}
		cmd.Stdout, cmd.Stderr = h.stdoutLines, h.stderrLines
	} else {
		cmd.Stdout, cmd.Stderr = &h.stdout, &h.stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", shell, err)
	}
	h.StartedAt = time.Now()
	h.logger = logger.With("handle_id", h.ID, "pid", cmd.Process.Pid)

	go h.wait()

	h.logger.Debug("process started", "owner", opts.Owner)
	return h, nil
}

// PID returns the process id of the shell leading the process group
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Done is closed once the process has been reaped and its pipes drained
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether Done is closed
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, or -1 if the process was killed by a
// signal. Only valid after Done.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Output returns buffered stdout and stderr. Empty when OnLine is set.
// Only valid after Done.
func (h *Handle) Output() (stdout, stderr []byte) {
	<-h.done
	return append([]byte(nil), h.stdout.Bytes()...), append([]byte(nil), h.stderr.Bytes()...)
}

// Terminate stops the whole process tree: SIGTERM to the group, SIGKILL
// after grace, then any descendant that escaped the group. It returns once
// the process has been reaped.
func (h *Handle) Terminate(grace time.Duration) error {
	h.terminateMu.Lock()
	defer h.terminateMu.Unlock()

	if h.Exited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}

	pid := h.PID()
	ctx, cancel := context.WithTimeout(context.Background(), grace+killWait)
	defer cancel()

	tree := descendants(ctx, pid)

	if err := signalGroup(pid, syscall.SIGTERM); err != nil && !h.Exited() {
		h.logger.Debug("SIGTERM failed", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.logger.Warn("process ignored SIGTERM, killing", "grace", grace)
		_ = signalGroup(pid, syscall.SIGKILL)
		select {
		case <-h.done:
		case <-time.After(killWait):
			return fmt.Errorf("process %d still running after SIGKILL", pid)
		}
	}

	if n := killStragglers(ctx, tree); n > 0 {
		h.logger.Debug("killed escaped descendants", "count", n)
	}
	return nil
}

// wait reaps the shell. Exit is taken from the process itself: a
// descendant left holding the output pipes only gets outputDrain before the
// pipes are closed, and is then terminated with the rest of the group.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		h.logger.Debug("descendant still held output after exit, terminating group")
		_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGTERM)
	}

	if h.stdoutLines != nil {
		h.stdoutLines.flush()
		h.stderrLines.flush()
	}

	h.exitCode = exitCode(h.cmd, err)
	h.logger.Debug("process exited", "exit_code", h.exitCode)

	if h.onExit != nil {
		h.onExit(h.exitCode)
	}
	close(h.done)
}

// lineWriter relays output one line at a time. exec writes to it from a
// single goroutine per stream, and never after Wait returns.
type lineWriter struct {
	stream Stream
	emit   func(Stream, string)
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.stream, strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) >= maxLineSize {
		w.flush()
	}
	return len(p), nil
}

// flush emits a trailing line that has no newline
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.emit(w.stream, strings.TrimSuffix(string(w.buf), "\r"))
	}
	w.buf = nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// LaunchFailed reports whether an exit code means the shell could not run
// the command at all
func LaunchFailed(code int) bool {
	return code == ExitNotFound || code == ExitNotExecutable
}
