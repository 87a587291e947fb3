package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const stderrTailBytes = 512

// Invocation is one engine run: the argument vector and the working directory.
type Invocation struct {
	Args []string
	Dir  string
}

// ExitStatus describes how the engine process ended. A non-zero code or a
// signal is not an error at this level; the caller decides.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   string
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool { return s.Code == 0 && !s.Signaled }

// StderrTail returns the last part of stderr, trimmed, for error messages.
func (s ExitStatus) StderrTail() string {
	tail := s.Stderr
	if len(tail) > stderrTailBytes {
		tail = tail[len(tail)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(tail))
}

// Invoker runs the engine. It returns an error only when the engine could not
// be started or was stopped because ctx ended.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (ExitStatus, error)
}

// ProcessInvoker spawns the engine executable as a child process.
type ProcessInvoker struct {
	Path string
	// DebugArgs logs the full argument vector before every run.
	DebugArgs bool
	Log       *slog.Logger
}

// Invoke blocks until the engine exits or ctx is done, in which case the
// engine's whole process group is killed.
func (p *ProcessInvoker) Invoke(ctx context.Context, inv Invocation) (ExitStatus, error) {
	if err := ctx.Err(); err != nil {
		return ExitStatus{}, &TimeoutError{Err: err}
	}
	if p.DebugArgs && p.Log != nil {
		p.Log.Info("calling engine CLI", "path", p.Path, "args", inv.Args, "dir", inv.Dir)
	}

	cmd := exec.Command(p.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExitStatus{}, &LaunchError{Path: p.Path, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	killed, err := waitOrKill(ctx, done, func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})
	if killed {
		status := ExitStatus{Signaled: true, Signal: syscall.SIGKILL.String(), Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
		return status, &TimeoutError{After: status.Duration, Err: ctx.Err()}
	}

	status := ExitStatus{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return status, &LaunchError{Path: p.Path, Err: fmt.Errorf("wait: %w", err)}
		}
		status.Code = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signaled = true
			status.Signal = ws.Signal().String()
		}
	}
	return status, nil
}

// waitOrKill waits for the process result on done. When ctx ends first it
// calls kill and waits for the reaped result. A process that has already
// exited when ctx ends is never killed.
func waitOrKill(ctx context.Context, done <-chan error, kill func()) (killed bool, err error) {
	select {
	case err = <-done:
		return false, err
	case <-ctx.Done():
	}
	select {
	case err = <-done:
		return false, err
	default:
	}
	kill()
	<-done
	return true, nil
}
