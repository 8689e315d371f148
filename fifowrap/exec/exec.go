// Package exec provides an abstraction around package os' Process
// implementation for easier testing.
package exec

import (
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Process describes a command process.
type Process interface {
	PID() int
	Signal(os.Signal) error
	// Wait blocks until the process exits. It must only be called once.
	Wait() ExitStatus
}

// ExitStatus is a process' exit status.
type ExitStatus struct {
	PID    int
	Code   int // -1 if killed by a signal
	Signal string
	Error  error
}

// Success returns true if the process exited on its own with code 0.
func (s ExitStatus) Success() bool {
	return s.Error == nil && s.Code == 0
}

func (s ExitStatus) String() string {
	switch {
	case s.Error != nil:
		return fmt.Sprintf("pid %d: %v", s.PID, s.Error)
	case s.Signal != "":
		return fmt.Sprintf("pid %d: signal: %s", s.PID, s.Signal)
	default:
		return fmt.Sprintf("pid %d: exit %d", s.PID, s.Code)
	}
}

// Spec describes how a child process is started.
type Spec struct {
	// Argv is executed verbatim without a shell. Argv[0] is looked up in $PATH
	// if it contains no slash.
	Argv []string
	// Dir is the working directory of the child.
	Dir string
	// Stdin becomes the child's standard input. The caller keeps its own
	// reference and should close it once the process is started.
	Stdin *os.File
}

type process struct {
	*os.Process
}

var _ Process = process{}

// StartProcess creates a new command process on the system. Stdout and stderr
// are shared with the calling process.
func StartProcess(spec Spec) (Process, error) {
	if len(spec.Argv) == 0 {
		return nil, errors.New("empty argv")
	}

	path := spec.Argv[0]
	if !strings.ContainsRune(path, filepath.Separator) {
		p, err := osexec.LookPath(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to find %q", path)
		}
		path = p
	}

	stdin := spec.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	// Lock this goroutine to the OS thread for Pdeathsig.
	// See https://github.com/golang/go/issues/27505.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p, err := os.StartProcess(path, spec.Argv, &os.ProcAttr{
		Dir:   spec.Dir,
		Files: []*os.File{stdin, os.Stdout, os.Stderr},
		// Linux-only: the child should not outlive us if we crash, since
		// nobody else knows how to stop it gracefully.
		Sys: &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start process")
	}

	return process{p}, nil
}

func (proc process) PID() int {
	return proc.Pid
}

// Signal sends sig to the process. It returns os.ErrProcessDone if the process
// has already been reaped.
func (proc process) Signal(sig os.Signal) error {
	return proc.Process.Signal(sig)
}

// Wait waits for the process to exit and reaps it.
func (proc process) Wait() ExitStatus {
	s, err := proc.Process.Wait()
	if err != nil {
		return ExitStatus{PID: proc.Pid, Code: -1, Error: err}
	}

	status := ExitStatus{
		PID:  proc.Pid,
		Code: s.ExitCode(),
	}

	if ws, ok := s.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signal = ws.Signal().String()
	}

	return status
}
