// Package ptyhost spawns and owns the child process behind a session's PTY:
// exit code capture (1 when waiting on the child fails without an exit
// status) and a graceful-then-forceful kill sequence. A read error on the
// master fd is returned to the caller; it does not by itself mark the host
// exited or set an exit code.
package ptyhost

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
)

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL, graceful-then-forceful shutdown.
const killGrace = 3 * time.Second

// ExitWaiter is notified once with the child's terminal exit code.
type ExitWaiter chan int

// Host wraps one child process attached to a PTY.
type Host struct {
	ptmx    *os.File
	cmd     *exec.Cmd
	usePgrp bool

	mu       sync.Mutex
	closed   bool
	closeCh  chan struct{}
	exitCode int
}

// Spawn starts shell (or argv if non-empty) attached to a new PTY sized
// cols x rows, in cwd, with env merged by key on top of the current
// process environment.
func Spawn(argv []string, cwd string, env map[string]string, cols, rows uint16) (*Host, error) {
	shell := ""
	if len(argv) > 0 {
		shell = argv[0]
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	if len(argv) > 1 {
		cmd = exec.Command(shell, argv[1:]...)
	} else {
		cmd = exec.Command(shell)
	}
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = mergeEnv(os.Environ(), env)

	usePgrp := runtime.GOOS == "linux"
	if usePgrp {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, errs.Wrap(errs.KindPTYCreationFailed, "start pty", err)
	}

	h := &Host{
		ptmx:     ptmx,
		cmd:      cmd,
		usePgrp:  usePgrp,
		closeCh:  make(chan struct{}),
		exitCode: -1,
	}
	go h.reap()
	return h, nil
}

// mergeEnv overlays overrides onto base, preserving base's ordering for keys
// it doesn't override.
func mergeEnv(base []string, overrides map[string]string) []string {
	skip := make(map[string]bool, len(overrides))
	for k := range overrides {
		skip[k] = true
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		idx := -1
		for i, c := range kv {
			if c == '=' {
				idx = i
				break
			}
		}
		if idx > 0 && skip[kv[:idx]] {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

// reap waits for the child to exit and records its exit code, then closes
// the done channel exactly once.
func (h *Host) reap() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}

	h.mu.Lock()
	if !h.closed {
		h.closed = true
		h.exitCode = code
		close(h.closeCh)
	}
	h.mu.Unlock()
}

// Read reads child output from the PTY master.
func (h *Host) Read(p []byte) (int, error) {
	n, err := h.ptmx.Read(p)
	if err != nil && err != io.EOF {
		logrus.WithError(err).Debug("ptyhost: read error, treating as session end")
	}
	return n, err
}

// Write sends bytes to the child's stdin via the PTY master.
func (h *Host) Write(p []byte) (int, error) {
	return h.ptmx.Write(p)
}

// MinDim and MaxDim bound valid cols/rows.
const (
	MinDim = 1
	MaxDim = 1000
)

// ValidDimensions reports whether cols/rows fall within [MinDim, MaxDim].
func ValidDimensions(cols, rows int) bool {
	return cols >= MinDim && cols <= MaxDim && rows >= MinDim && rows <= MaxDim
}

// Resize applies new dimensions to the PTY. It returns an error rather
// than panicking on an already-closed host.
func (h *Host) Resize(cols, rows uint16) error {
	if !ValidDimensions(int(cols), int(rows)) {
		return errs.New(errs.KindInvalidDimensions, "cols/rows out of range [1,1000]")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errs.New(errs.KindSessionExited, "cannot resize an exited session")
	}
	if err := pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return errs.Wrap(errs.KindInvalidDimensions, "resize pty", err)
	}
	return nil
}

// Kill sends SIGTERM, waits up to killGrace, then escalates to SIGKILL.
// On Linux it signals the whole process group so no orphaned grandchildren
// survive.
func (h *Host) Kill() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	pid := h.cmd.Process.Pid
	usePgrp := h.usePgrp
	h.mu.Unlock()

	h.signal(pid, usePgrp, syscall.SIGTERM)

	select {
	case <-h.closeCh:
		return nil
	case <-time.After(killGrace):
	}

	h.signal(pid, usePgrp, syscall.SIGKILL)
	<-h.closeCh
	return nil
}

func (h *Host) signal(pid int, usePgrp bool, sig syscall.Signal) {
	if usePgrp {
		_ = syscall.Kill(-pid, sig)
	} else {
		_ = syscall.Kill(pid, sig)
	}
}

// Close releases the PTY master fd without waiting on the child; Kill
// should be preferred when the child must be terminated too.
func (h *Host) Close() error {
	return h.ptmx.Close()
}

// Done returns a channel closed when the child has exited.
func (h *Host) Done() <-chan struct{} {
	return h.closeCh
}

// ExitCode returns the child's exit code, or -1 if it hasn't exited yet.
func (h *Host) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Pid returns the child process's pid.
func (h *Host) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
