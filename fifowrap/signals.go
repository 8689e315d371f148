package fifowrap

import (
	"context"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type signalHandler func(s *Supervisor, sig os.Signal) error

// signalHandlers maps each signal we act on to its handler.
var signalHandlers = map[syscall.Signal]signalHandler{
	syscall.SIGINT:  (*Supervisor).handleShutdown,
	syscall.SIGTERM: (*Supervisor).handleShutdown,
	syscall.SIGHUP:  (*Supervisor).handleReload,
	syscall.SIGUSR1: (*Supervisor).handleSaveOff,
	syscall.SIGUSR2: (*Supervisor).handleSaveOn,
}

// HandledSignals returns the signals the supervisor has handlers for, to be
// passed to signal.Notify.
func HandledSignals() []os.Signal {
	sigs := make([]syscall.Signal, 0, len(signalHandlers))
	for sig := range signalHandlers {
		sigs = append(sigs, sig)
	}

	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })

	out := make([]os.Signal, len(sigs))
	for i, sig := range sigs {
		out[i] = sig
	}

	return out
}

func signalName(sig os.Signal) string {
	if sys, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(sys); name != "" {
			return name
		}
	}
	return sig.String()
}

// dispatch runs signal handlers one after another until ctx is canceled. The
// first handler error is reported on fatal and stops dispatching.
func (s *Supervisor) dispatch(ctx context.Context, sigs <-chan os.Signal, fatal chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}

			if err := s.HandleSignal(sig); err != nil {
				fatal <- err
				return
			}
		}
	}
}

// HandleSignal runs the handler bound to sig. A panicking handler is turned
// into an error, which the caller must treat as fatal.
func (s *Supervisor) HandleSignal(sig os.Signal) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%s handler panicked: %v", signalName(sig), v)
		}
	}()

	sys, _ := sig.(syscall.Signal)

	handler, ok := signalHandlers[sys]
	if !ok {
		s.j.Write(&EventSignalIgnored{
			Signal: signalName(sig),
			Reason: "there is no handler for it",
		})
		return nil
	}

	if err := handler(s, sig); err != nil {
		return errors.Wrapf(err, "%s handler failed", signalName(sig))
	}

	return nil
}

func (s *Supervisor) handleShutdown(sig os.Signal) error {
	name := signalName(sig)

	if s.state.Load() == int32(stateRunning) {
		s.j.Write(&EventSignalReceived{Signal: name, Action: "attempting graceful stop"})
	}

	s.requestShutdown(name)
	return nil
}

func (s *Supervisor) handleReload(sig os.Signal) error {
	s.j.Write(&EventSignalReceived{Signal: signalName(sig), Action: "restarting proxy thread"})
	s.ReloadRelay()
	return nil
}

func (s *Supervisor) handleSaveOff(sig os.Signal) error {
	s.j.Write(&EventSignalReceived{Signal: signalName(sig), Action: "disabling disk saves"})
	s.sendCommand(s.opts.Commands.SaveOff)
	return nil
}

func (s *Supervisor) handleSaveOn(sig os.Signal) error {
	s.j.Write(&EventSignalReceived{Signal: signalName(sig), Action: "enabling disk saves"})
	s.sendCommand(s.opts.Commands.SaveOn)
	return nil
}
