package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// ExitStatus describes how the helper process ended.
type ExitStatus struct {
	// Code is the process exit code, or -1 when the process was killed by a
	// signal before exiting.
	Code int

	// Signal is the name of the terminating signal, empty for plain exits.
	Signal string
}

// Normal reports whether the exit was a clean, voluntary shutdown.
func (s ExitStatus) Normal() bool {
	return s.Code == 0 && s.Signal == ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal:" + s.Signal
	}
	return fmt.Sprintf("code:%d", s.Code)
}

// Transport abstracts one helper process incarnation. A fresh Transport is
// obtained from the factory for every spawn, so a Transport is single-use:
// Start once, then Wait until exit.
type Transport interface {
	// Start launches the process and returns its stdio pipes.
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)

	// Wait blocks until the process exits and reports how it ended.
	Wait() (ExitStatus, error)

	// Terminate asks the process to shut down gracefully.
	Terminate() error

	// Kill forcibly ends the process.
	Kill() error
}

// TransportFactory produces a fresh Transport for each (re)spawn.
type TransportFactory func() Transport

// Command returns a TransportFactory that launches the given executable via
// os/exec. This is the production transport.
func Command(name string, args ...string) TransportFactory {
	return func() Transport {
		return &execTransport{name: name, args: args}
	}
}

type execTransport struct {
	name string
	args []string
	cmd  *exec.Cmd
}

func (t *execTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.Command(t.name, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("helper: open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("helper: open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("helper: start %q: %w", t.name, err)
	}
	t.cmd = cmd
	return stdin, stdout, nil
}

func (t *execTransport) Wait() (ExitStatus, error) {
	err := t.cmd.Wait()
	status := ExitStatus{Code: t.cmd.ProcessState.ExitCode()}
	if ws, ok := t.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return status, fmt.Errorf("helper: wait for %q: %w", t.name, err)
	}
	return status, nil
}

func (t *execTransport) Terminate() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Signal(syscall.SIGTERM)
}

func (t *execTransport) Kill() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}
