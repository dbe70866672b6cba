// Package backend supervises the analytics child process that serves
// line-delimited JSON-RPC over its standard input and output.
package backend

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// ErrNotRunning indicates a write was attempted after the process exited.
var ErrNotRunning = errors.New("backend process is not running")

// Config describes how to launch the backend executable.
type Config struct {
	// Command is the backend executable; LocalPath, when it exists, takes
	// precedence so a checkout-local build overrides the system install.
	Command   string
	LocalPath string
	Args      []string
	Dir       string

	// PackageRoot is appended to the interpreter module search path so the
	// analytics package resolves regardless of the working directory.
	PackageRoot string

	// Env entries are appended to the host environment.
	Env []string
}

// Resolve returns the executable to launch, preferring LocalPath when it
// points at an existing file.
func (c *Config) Resolve() string {
	if c.LocalPath != "" {
		if info, err := os.Stat(c.LocalPath); err == nil && !info.IsDir() {
			return c.LocalPath
		}
	}
	return c.Command
}

// Process is one running backend, owned exclusively by a single session.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	sigOnce sync.Once

	done    chan struct{}
	exitErr error
}

// Start launches the backend with wired stdin/stdout/stderr pipes. Standard
// error is consumed line by line and logged, never parsed.
func Start(cfg Config, logger zerolog.Logger) (*Process, error) {
	command := cfg.Resolve()
	if command == "" {
		return nil, fmt.Errorf("failed to start backend: no command configured")
	}
	cmd := exec.Command(command, cfg.Args...)
	cmd.Dir = cfg.Dir
	env := append(os.Environ(), "PYTHONUNBUFFERED=1")
	if cfg.PackageRoot != "" {
		env = append(env, "PYTHONPATH="+cfg.PackageRoot)
	}
	cmd.Env = append(env, cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend %q: %w", command, err)
	}

	process := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}
	go process.logStderr(stderr, logger)
	go process.wait()
	return process, nil
}

func (p *Process) logStderr(reader io.Reader, logger zerolog.Logger) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (p *Process) wait() {
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// Stdout returns the readable message stream of the process.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// WriteLine writes one serialized message plus the trailing delimiter to the
// process standard input. Writes are serialized so concurrent callers never
// interleave partial lines.
func (p *Process) WriteLine(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.Exited() {
		return ErrNotRunning
	}
	if _, err := p.stdin.Write(line); err != nil {
		return err
	}
	_, err := p.stdin.Write([]byte{'\n'})
	return err
}

// Terminate signals the process to stop. Best effort, non blocking and
// idempotent: signaling an already exited process is a no-op.
func (p *Process) Terminate() {
	p.sigOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil && !p.Exited() {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
}

// Done is closed once the process has exited, solicited or not.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the exit status after Done is closed.
func (p *Process) ExitErr() error {
	return p.exitErr
}

// Pid returns the operating system process id, for diagnostics.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
