package fifowrap

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LinkWriteTimeout bounds a single write into the child. A child that stops
// reading its standard input must not stall whoever is writing to it, least of
// all the shutdown.
var LinkWriteTimeout = 5 * time.Second

var (
	// ErrLinkClosed is returned when writing into a closed child link.
	ErrLinkClosed = errors.New("child link closed")
	// ErrWriteRevoked is returned by WriteLineIf when the writer lost its
	// right to write while waiting for the link.
	ErrWriteRevoked = errors.New("write revoked")
)

// ChildLink is the write end of the pipe bound to the child's standard input.
// Every write is a whole line, so lines written concurrently never interleave.
type ChildLink struct {
	mutex  sync.Mutex
	w      io.WriteCloser
	closed bool
}

// NewChildLink creates an anonymous pipe. The returned read end is meant to be
// handed to the child; the caller must close it once the child is started.
func NewChildLink() (*ChildLink, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create child link")
	}

	return &ChildLink{w: w}, r, nil
}

// NewChildLinkWriter wraps an existing writer as a child link.
func NewChildLinkWriter(w io.WriteCloser) *ChildLink {
	return &ChildLink{w: w}
}

// WriteLine writes the given line followed by a single newline. The line should
// not carry its own terminator. Errors are returned to the caller but never
// leave the link in an unusable state.
func (l *ChildLink) WriteLine(line string) error {
	return l.WriteLineIf(line, nil)
}

// WriteLineIf is like WriteLine, except ok is checked once the link is held
// exclusively. If ok returns false, nothing is written and ErrWriteRevoked is
// returned. A nil ok always allows the write.
func (l *ChildLink) WriteLineIf(line string, ok func() bool) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return ErrLinkClosed
	}

	if ok != nil && !ok() {
		return ErrWriteRevoked
	}

	if d, ok := l.w.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if err := d.SetWriteDeadline(time.Now().Add(LinkWriteTimeout)); err != nil {
			return errors.Wrap(err, "failed to set write deadline")
		}
	}

	if _, err := l.w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write to child")
	}

	return nil
}

// Close closes the write end. The child sees EOF on its standard input.
func (l *ChildLink) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.w.Close()
}
