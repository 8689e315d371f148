package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/pkg/errors"
)

// Event describes the JSON structure of an event to be written.
type Event struct {
	Time time.Time      `json:"time"`
	Type string         `json:"type"`
	Data fifowrap.Event `json:"data"`
}

// Writer is a simple journaler that writes line-delimited JSON events into the
// writer.
type Writer struct{ w io.Writer }

var _ fifowrap.Journaler = Writer{}

// NewWriter creates a new journal writer.
func NewWriter(w io.Writer) Writer {
	return Writer{w}
}

// Write writes the given event into the writer. Each event is written with a
// single Write call, so writes are atomic as long as the underlying writer's
// are.
func (l Writer) Write(ev fifowrap.Event) error {
	evJSON := Event{
		Time: time.Now(),
		Type: ev.Type(),
		Data: ev,
	}

	buf := bytes.Buffer{}
	buf.Grow(512)

	// Encode appends the trailing new line for us.
	if err := json.NewEncoder(&buf).Encode(evJSON); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	_, err := l.w.Write(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to write event")
	}

	return nil
}

// HumanWriter writes events as plain log lines, one per event, each prefixed
// with the process name and ID.
type HumanWriter struct {
	mutex  sync.Mutex
	w      io.Writer
	prefix string
}

var _ fifowrap.Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a new human-readable journaler. The writer should be
// unbuffered, such as os.Stdout, so every line is flushed immediately.
func NewHumanWriter(name string, w io.Writer) *HumanWriter {
	return &HumanWriter{
		w:      w,
		prefix: fmt.Sprintf("[%s:%d] ", name, os.Getpid()),
	}
}

func (h *HumanWriter) Write(ev fifowrap.Event) error {
	line := h.prefix + ev.String() + "\n"

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, err := io.WriteString(h.w, line); err != nil {
		return errors.Wrap(err, "failed to write log line")
	}

	return nil
}

// multiWriter combines multiple journalers.
type multiWriter []fifowrap.Journaler

// MultiWriter creates a journaler that writes to multiple other journalers.
// Every journaler gets every event; the first error is returned.
func MultiWriter(ws ...fifowrap.Journaler) fifowrap.Journaler {
	return multiWriter(ws)
}

func (ws multiWriter) Write(event fifowrap.Event) error {
	var firstErr error
	for _, writer := range ws {
		if err := writer.Write(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
