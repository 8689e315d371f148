package fifowrap

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap/exec"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SpawnGrace is the time given to the child to settle after being spawned
// before signal handlers and the relay start touching it.
var SpawnGrace = time.Second

// CrashPause is the time to wait after the child died abnormally before
// returning, so that whatever restarts us does not spin.
var CrashPause = 15 * time.Second

var (
	// ErrNotFIFO is returned if the command channel is not a named pipe.
	ErrNotFIFO = errors.New("not a named pipe")
	// ErrFIFOUnreadable is returned if the command channel can't be read.
	ErrFIFOUnreadable = errors.New("cannot read fifo")
)

// Commands are the lines written to the child for the supervisor's own
// purposes.
type Commands struct {
	Stop    string
	SaveOff string
	SaveOn  string
}

// DefaultCommands are the commands understood by a Minecraft server console.
var DefaultCommands = Commands{
	Stop:    "/stop",
	SaveOff: "/save-off",
	SaveOn:  "/save-on",
}

// Options describes the child to supervise.
type Options struct {
	FIFO     string
	Dir      string
	Argv     []string
	Commands Commands
	// Watch reloads the relay whenever the FIFO is recreated on disk.
	Watch bool
}

// Supervisor runs a single child process, relays commands from a FIFO into its
// standard input and stops it on request, escalating signals as needed.
type Supervisor struct {
	StageTimeout time.Duration
	PollInterval time.Duration
	SpawnGrace   time.Duration
	CrashPause   time.Duration
	RelayGrace   time.Duration

	opts      Options
	j         Journaler
	startProc func(exec.Spec) (exec.Process, error)

	ctx  context.Context
	proc exec.Process
	link *ChildLink

	state    atomic.Int32
	exited   chan struct{}
	status   exec.ExitStatus
	result   chan int
	cutPause chan struct{}

	relayMutex sync.Mutex
	relay      *Relay
	relayGen   int
}

// New validates the given options and creates a supervisor. No process is
// started until Run is called.
func New(opts Options, j Journaler) (*Supervisor, error) {
	if len(opts.Argv) == 0 {
		return nil, errors.New("missing command")
	}

	fifo, err := filepath.Abs(opts.FIFO)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve fifo path")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve working directory")
	}

	if err := ValidateFIFO(fifo); err != nil {
		return nil, err
	}

	if stat, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "working directory not found")
	} else if !stat.IsDir() {
		return nil, errors.Errorf("working directory %q is not a directory", dir)
	}

	opts.FIFO = fifo
	opts.Dir = dir

	if opts.Commands == (Commands{}) {
		opts.Commands = DefaultCommands
	}
	if j == nil {
		j = discardJournal
	}

	return &Supervisor{
		StageTimeout: ShutdownStageTimeout,
		PollInterval: ShutdownPollInterval,
		SpawnGrace:   SpawnGrace,
		CrashPause:   CrashPause,
		RelayGrace:   RelayStopGrace,

		opts:      opts,
		j:         j,
		startProc: exec.StartProcess,

		exited:   make(chan struct{}),
		result:   make(chan int, 1),
		cutPause: make(chan struct{}, 1),
	}, nil
}

// ValidateFIFO ensures that the path exists, is a named pipe and is readable
// by us.
func ValidateFIFO(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "FIFO not found: %q", path)
	}

	if stat.Mode()&os.ModeNamedPipe == 0 {
		return errors.Wrapf(ErrNotFIFO, "%q", path)
	}

	if err := unix.Access(path, unix.R_OK); err != nil {
		return errors.Wrapf(ErrFIFOUnreadable, "%q: %v", path, err)
	}

	return nil
}

// PID returns the child's process ID, or 0 if it was never started.
func (s *Supervisor) PID() int {
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// Run starts the child and blocks until the supervisor is done with it. The
// returned value is the status the supervisor process should exit with.
// Signals are read from sigs and dispatched one at a time; canceling ctx is
// treated as a shutdown request.
func (s *Supervisor) Run(ctx context.Context, sigs <-chan os.Signal) int {
	if err := s.spawn(); err != nil {
		s.j.Write(&EventWarning{Component: "supervisor", Error: err.Error()})
		return 1
	}

	go s.reap()

	s.sleep(s.SpawnGrace)

	runCtx, cancel := context.WithCancel(context.Background())
	defer s.teardown(cancel)
	s.ctx = runCtx

	s.startRelay()

	if s.opts.Watch {
		TryWatch(runCtx, s.opts.FIFO, s.j, func() { s.ReloadRelay() })
	}

	fatal := make(chan error, 1)
	go s.dispatch(runCtx, sigs, fatal)

	return s.wait(ctx, fatal)
}

func (s *Supervisor) spawn() error {
	link, r, err := NewChildLink()
	if err != nil {
		return err
	}

	s.j.Write(&EventStarted{
		FIFO: s.opts.FIFO,
		Dir:  s.opts.Dir,
		Argv: s.opts.Argv,
	})

	proc, err := s.startProc(exec.Spec{
		Argv:  s.opts.Argv,
		Dir:   s.opts.Dir,
		Stdin: r,
	})

	// The child holds its own copy now.
	r.Close()

	if err != nil {
		link.Close()
		return errors.Wrap(err, "failed to spawn child")
	}

	s.proc = proc
	s.link = link

	s.j.Write(&EventChildSpawned{PID: proc.PID()})
	return nil
}

// reap is the only place the child is waited on.
func (s *Supervisor) reap() {
	status := s.proc.Wait()

	ev := &EventChildExited{
		PID:      status.PID,
		ExitCode: status.Code,
		Signal:   status.Signal,
	}
	if status.Error != nil {
		ev.Error = status.Error.Error()
	}

	s.j.Write(ev)

	s.status = status
	close(s.exited)
}

func (s *Supervisor) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

func (s *Supervisor) sleep(d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.exited:
	}
}

func (s *Supervisor) wait(ctx context.Context, fatal <-chan error) int {
	exited := s.exited
	done := ctx.Done()

	for {
		select {
		case <-exited:
			exited = nil

			// If a shutdown is underway, then it gets to decide how we exit.
			if !s.state.CompareAndSwap(int32(stateRunning), int32(stateExiting)) {
				continue
			}

			if s.status.Success() {
				return 0
			}

			return s.pause(fatal)

		case <-done:
			done = nil
			s.requestShutdown("context canceled")

		case code := <-s.result:
			return code

		case err := <-fatal:
			s.j.Write(&EventWarning{Component: "signal handler", Error: err.Error()})
			return 1
		}
	}
}

// pause rate-limits restarts after the child died abnormally. A shutdown
// request cuts it short.
func (s *Supervisor) pause(fatal <-chan error) int {
	timer := time.NewTimer(s.CrashPause)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.cutPause:
	case err := <-fatal:
		s.j.Write(&EventWarning{Component: "signal handler", Error: err.Error()})
		return 1
	}

	return 0
}

func (s *Supervisor) teardown(cancel context.CancelFunc) {
	cancel()

	s.relayMutex.Lock()
	relay := s.relay
	s.relay = nil
	s.relayMutex.Unlock()

	if relay != nil {
		relay.Stop(s.RelayGrace)
	}

	s.link.Close()
}

func (s *Supervisor) startRelay() {
	s.relayMutex.Lock()
	defer s.relayMutex.Unlock()

	s.relayGen++
	s.relay = StartRelay(s.ctx, s.relayGen, s.opts.FIFO, s.link, s.j)
}

// ReloadRelay stops the current relay and starts a new one. The old relay is
// stopped, or revoked if it does not yield, before the new one starts, so the
// two never both write into the child.
func (s *Supervisor) ReloadRelay() {
	s.relayMutex.Lock()
	defer s.relayMutex.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	if s.relay != nil {
		s.relay.Stop(s.RelayGrace)
	}

	s.relayGen++
	s.relay = StartRelay(s.ctx, s.relayGen, s.opts.FIFO, s.link, s.j)
}

// sendCommand writes a command into the child. Failures are logged only.
func (s *Supervisor) sendCommand(cmd string) {
	if err := s.link.WriteLine(cmd); err != nil {
		s.j.Write(&EventLinkWriteError{Command: cmd, Error: err.Error()})
	}
}

// signalChild sends sig to the child. A child that has already been reaped is
// not an error, since the next poll will notice it.
func (s *Supervisor) signalChild(sig os.Signal) error {
	err := s.proc.Signal(sig)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok && errno == syscall.ESRCH {
		return nil
	}
	return errors.Wrapf(err, "failed to send %s to %d", signalName(sig), s.proc.PID())
}
