package exec

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SleepProcess is a process that only idles. It is used for testing.
type SleepProcess struct {
	once   sync.Once
	stop   chan struct{}
	timer  *time.Timer
	pid    int
	ignore map[os.Signal]bool

	mutex   sync.Mutex
	signals []os.Signal
	exit    ExitStatus
	exited  bool
}

var _ Process = (*SleepProcess)(nil)

// NewSleepProcess creates a process that idles for dura before exiting with
// code 0. Any signal not in ignore stops it immediately; ignoring os.Kill
// mimics a process stuck in uninterruptible sleep.
func NewSleepProcess(dura time.Duration, pid int, ignore ...os.Signal) *SleepProcess {
	ignored := make(map[os.Signal]bool, len(ignore))
	for _, sig := range ignore {
		ignored[sig] = true
	}

	return &SleepProcess{
		stop:   make(chan struct{}),
		timer:  time.NewTimer(dura),
		pid:    pid,
		ignore: ignored,
	}
}

func (mock *SleepProcess) PID() int { return mock.pid }

// Signals returns every signal delivered so far, in order.
func (mock *SleepProcess) Signals() []os.Signal {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	return append([]os.Signal(nil), mock.signals...)
}

func (mock *SleepProcess) Signal(sig os.Signal) error {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	if mock.exited {
		return os.ErrProcessDone
	}

	mock.signals = append(mock.signals, sig)
	if sig == nil {
		return errors.New("nil signal")
	}
	if mock.ignore[sig] {
		return nil
	}

	mock.exited = true
	mock.exit = ExitStatus{PID: mock.pid, Code: -1, Signal: sig.String()}
	close(mock.stop)

	return nil
}

// Exit makes the process exit with the given code, as if it decided to quit
// on its own.
func (mock *SleepProcess) Exit(code int) {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	if mock.exited {
		return
	}

	mock.exited = true
	mock.exit = ExitStatus{PID: mock.pid, Code: code}
	close(mock.stop)
}

func (mock *SleepProcess) Wait() ExitStatus {
	mock.once.Do(func() {
		select {
		case <-mock.stop:
			mock.timer.Stop()
		case <-mock.timer.C:
			mock.Exit(0)
		}
	})

	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	return mock.exit
}
