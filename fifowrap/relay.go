package fifowrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RelayStopGrace is the time a relay is given to stop cooperatively before it
// is revoked.
var RelayStopGrace = time.Second

// RelayRetryDelay is the time to wait before reopening the FIFO after an error.
var RelayRetryDelay = time.Second

// relayNudgeInterval is how often a cancelled relay blocked in open(2) is
// poked with a throwaway writer.
const relayNudgeInterval = 50 * time.Millisecond

// LineWriter is the destination of relayed commands. ok is checked while the
// writer is held exclusively; a false ok must write nothing and return
// ErrWriteRevoked.
type LineWriter interface {
	WriteLineIf(line string, ok func() bool) error
}

// Relay forwards lines read from a FIFO into a LineWriter. It reopens the FIFO
// after every writer disconnects, and it never stops on its own until its
// context is canceled.
type Relay struct {
	Generation int

	RetryDelay time.Duration

	path string
	w    LineWriter
	j    Journaler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	revoked atomic.Bool

	mutex sync.Mutex
	file  *os.File
}

// StartRelay starts a relay in the background. The relay runs until Stop is
// called or ctx is canceled.
func StartRelay(ctx context.Context, gen int, path string, w LineWriter, j Journaler) *Relay {
	r := newRelay(ctx, gen, path, w, j)
	r.start()
	return r
}

func newRelay(ctx context.Context, gen int, path string, w LineWriter, j Journaler) *Relay {
	ctx, cancel := context.WithCancel(ctx)

	return &Relay{
		Generation: gen,
		RetryDelay: RelayRetryDelay,

		path:   path,
		w:      w,
		j:      j,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (r *Relay) start() {
	r.j.Write(&EventRelayStarted{Generation: r.Generation})

	go r.unblockOnCancel()
	go r.run()
}

// Done returns a channel that is closed once the relay goroutine has returned.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Stop cancels the relay and waits up to grace for it to return. If it does
// not, the relay is revoked: it will never write another line, and the FIFO
// handle it holds is closed from under it. Stop returns true if the relay had
// to be revoked.
func (r *Relay) Stop(grace time.Duration) (forced bool) {
	r.cancel()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-r.done:
		r.j.Write(&EventRelayStopped{Generation: r.Generation})
		return false
	case <-timer.C:
	}

	r.revoked.Store(true)
	r.closeFile()
	r.nudge()

	r.j.Write(&EventRelayStopped{Generation: r.Generation, Forced: true})
	return true
}

// unblockOnCancel releases the relay from whatever it is blocked on once the
// context is canceled: a pending read is interrupted by closing the file, and
// a pending open is satisfied by briefly connecting as a writer.
func (r *Relay) unblockOnCancel() {
	select {
	case <-r.done:
		return
	case <-r.ctx.Done():
	}

	r.closeFile()

	ticker := time.NewTicker(relayNudgeInterval)
	defer ticker.Stop()

	for !r.revoked.Load() {
		r.nudge()

		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
	}
}

// nudge opens the FIFO for writing without blocking and closes it right away.
// ENXIO means nobody is blocked opening it for reading, which is fine.
//
// TODO: a relay blocked opening a FIFO that has since been unlinked can't be
// reached through the path anymore; anchoring the inode with an O_NONBLOCK
// descriptor and opening /proc/self/fd/N instead would fix that on Linux.
func (r *Relay) nudge() {
	fd, err := unix.Open(r.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err == nil {
		unix.Close(fd)
	}
}

func (r *Relay) setFile(f *os.File) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.ctx.Err() != nil {
		f.Close()
		return false
	}

	r.file = f
	return true
}

func (r *Relay) closeFile() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func (r *Relay) run() {
	defer close(r.done)

	for r.ctx.Err() == nil {
		if err := r.relayOnce(); err != nil && r.ctx.Err() == nil {
			r.j.Write(&EventRelayError{
				Generation: r.Generation,
				Error:      err.Error(),
			})
			r.sleep(r.RetryDelay)
		}
	}
}

func (r *Relay) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-r.ctx.Done():
	}
}

// relayOnce serves a single writer connection. A nil error means the writer
// disconnected normally.
func (r *Relay) relayOnce() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("unhandled error in proxy: %v", v)
		}
	}()

	// This blocks until a writer connects.
	f, err := os.OpenFile(r.path, os.O_RDONLY, 0)
	if err != nil {
		return errors.Wrap(err, "failed to open fifo")
	}

	if !r.setFile(f) {
		return nil
	}
	defer r.closeFile()

	stat, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat fifo")
	}
	if stat.Mode()&os.ModeNamedPipe == 0 {
		return ErrNotFIFO
	}

	br := bufio.NewReader(f)

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 && r.ctx.Err() == nil {
			r.forward(line)
		}

		if err != nil {
			if errors.Is(err, io.EOF) || r.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to read fifo")
		}
	}
}

func (r *Relay) forward(line string) {
	line = trimLine(line)

	if !r.allowed() {
		return
	}

	r.j.Write(&EventCommandRelayed{Command: line})

	err := r.w.WriteLineIf(line, r.allowed)
	if err != nil && !errors.Is(err, ErrWriteRevoked) {
		r.j.Write(&EventLinkWriteError{
			Command: line,
			Error:   err.Error(),
		})
	}
}

// allowed reports whether the relay may still write into the child. It is
// checked again under the link's lock, since a relay can be revoked while it
// waits for the link.
func (r *Relay) allowed() bool {
	return !r.revoked.Load()
}

func trimLine(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
	}
	return line
}
