package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGrace is how long Terminate waits before escalating to SIGKILL.
const DefaultGrace = 5 * time.Second

// Hooks are the observable process events. Error and End are terminal and
// mutually exclusive: exactly one of them fires per started process.
// Hooks run on the supervisor's goroutine and must not block.
type Hooks struct {
	Started func(pid int)
	Error   func(err error)
	End     func()
}

// Process is a handle to one running external process.
type Process interface {
	PID() int
	// Terminate requests a graceful stop. It never blocks and is a no-op
	// once the process has exited or was already terminated.
	Terminate()
	// Kill stops the process immediately. Also a no-op after exit.
	Kill()
	// Done is closed after the process has exited and its hooks have run.
	Done() <-chan struct{}
}

// Runner launches processes from descriptors.
type Runner interface {
	Start(d Descriptor, hooks Hooks) (Process, error)
}

// ExecRunner runs descriptors as OS processes via os/exec.
type ExecRunner struct {
	log   *slog.Logger
	grace time.Duration
}

// NewExecRunner returns a runner that escalates Terminate to SIGKILL after
// grace. If grace <= 0, DefaultGrace is used.
func NewExecRunner(log *slog.Logger, grace time.Duration) *ExecRunner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &ExecRunner{log: log.With("component", "transcode"), grace: grace}
}

// ExitError is reported through Hooks.Error when a process exits non-zero.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("process exited with code %d", e.Code)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Start implements Runner.Start.
func (r *ExecRunner) Start(d Descriptor, hooks Hooks) (Process, error) {
	if d.Binary == "" {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(d.Binary, d.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Binary, err)
	}

	p := &execProcess{
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		done:  make(chan struct{}),
		tail:  newTail(20),
		grace: r.grace,
		log:   r.log.With("pid", cmd.Process.Pid),
	}
	p.log.Debug("process started", slog.String("command", d.String()))
	if hooks.Started != nil {
		hooks.Started(p.pid)
	}

	go p.wait(stderr, hooks)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	pid   int
	done  chan struct{}
	tail  *tail
	grace time.Duration
	log   *slog.Logger

	termOnce sync.Once
}

func (p *execProcess) PID() int { return p.pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

// wait drains stderr, reaps the process and fires the terminal hook.
func (p *execProcess) wait(stderr io.Reader, hooks Hooks) {
	p.streamOutput(stderr)
	err := p.cmd.Wait()

	if err != nil {
		exitErr := &ExitError{Code: exitCode(err), Stderr: p.tail.String(), Err: err}
		p.log.Debug("process failed", slog.Int("exit_code", exitErr.Code))
		if hooks.Error != nil {
			hooks.Error(exitErr)
		}
	} else {
		p.log.Debug("process ended")
		if hooks.End != nil {
			hooks.End()
		}
	}
	close(p.done)
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate sends SIGINT to the process group and schedules a SIGKILL if the
// process is still alive after the grace period.
func (p *execProcess) Terminate() {
	p.termOnce.Do(func() {
		if p.exited() {
			return
		}
		p.log.Debug("sending SIGINT")
		if err := syscall.Kill(-p.pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.log.Warn("failed to send SIGINT", slog.String("error", err.Error()))
		}
		go func() {
			select {
			case <-p.done:
			case <-time.After(p.grace):
				p.log.Warn("graceful stop timed out, killing", slog.Duration("grace", p.grace))
				p.Kill()
			}
		}()
	})
}

// Kill sends SIGKILL to the process group.
func (p *execProcess) Kill() {
	if p.exited() {
		return
	}
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.log.Warn("failed to kill process", slog.String("error", err.Error()))
	}
}

// streamOutput forwards each stderr line to the logger at the level ffmpeg
// tagged it with, and keeps a tail for error reporting.
func (p *execProcess) streamOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.tail.add(line)
		level, msg := parseLogLevel(line)
		p.log.Log(context.Background(), level, msg, slog.String("source", "stderr"))
	}
	if err := scanner.Err(); err != nil {
		p.log.Warn("error reading process output", slog.String("error", err.Error()))
	}
}

// exitCode extracts the exit code from a Wait error; 1 for non-exit errors.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
