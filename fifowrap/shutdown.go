package fifowrap

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// ShutdownStageTimeout is how long each shutdown stage waits for the child to
// exit before escalating.
const ShutdownStageTimeout = 30 * time.Second

// ShutdownPollInterval is how often the child is checked during a stage.
const ShutdownPollInterval = time.Second

// shutdownState only ever moves forward.
type shutdownState int32

const (
	stateRunning      shutdownState = iota
	stateShuttingDown               // escalation underway
	stateExiting                    // child gone on its own, on our way out
)

// ShutdownStage is a step of the shutdown escalation.
type ShutdownStage string

const (
	StageGraceful  ShutdownStage = "graceful"
	StageTerminate ShutdownStage = "terminate"
	StageKill      ShutdownStage = "kill"
)

// requestShutdown starts the escalation unless something else already decided
// how we exit. It returns false if the request was ignored.
func (s *Supervisor) requestShutdown(why string) bool {
	if s.state.CompareAndSwap(int32(stateRunning), int32(stateShuttingDown)) {
		go s.shutdown()
		return true
	}

	// Wake the crash pause up, if we're in it.
	select {
	case s.cutPause <- struct{}{}:
	default:
	}

	s.j.Write(&EventSignalIgnored{
		Signal: why,
		Reason: "shutdown is already in progress",
	})

	return false
}

// shutdown escalates from a polite stop command to SIGTERM to SIGKILL, waiting
// up to StageTimeout after each. Its outcome is the supervisor's exit status.
func (s *Supervisor) shutdown() {
	code := 1

	defer func() {
		if v := recover(); v != nil {
			s.j.Write(&EventShutdownFinished{
				PID:   s.proc.PID(),
				Error: fmt.Sprint("panic: ", v),
			})
			code = 1
		}

		s.result <- code
	}()

	pid := s.proc.PID()

	s.j.Write(&EventShutdownStage{Stage: StageGraceful, PID: pid})
	s.sendCommand(s.opts.Commands.Stop)

	if s.waitExit() {
		s.j.Write(&EventShutdownFinished{PID: pid, Success: true})
		code = 0
		return
	}

	for _, stage := range []struct {
		stage  ShutdownStage
		signal os.Signal
	}{
		{StageTerminate, syscall.SIGTERM},
		{StageKill, syscall.SIGKILL},
	} {
		s.j.Write(&EventShutdownStage{Stage: stage.stage, PID: pid})

		if err := s.signalChild(stage.signal); err != nil {
			s.j.Write(&EventShutdownFinished{PID: pid, Error: err.Error()})
			return
		}

		if s.waitExit() {
			s.j.Write(&EventShutdownFinished{PID: pid, Success: true})
			code = 0
			return
		}
	}

	s.j.Write(&EventShutdownFinished{PID: pid})
}

// waitExit polls for the child's exit every PollInterval until StageTimeout
// elapses.
func (s *Supervisor) waitExit() bool {
	deadline := time.NewTimer(s.StageTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.hasExited() {
				return true
			}
		case <-deadline.C:
			return s.hasExited()
		}
	}
}
