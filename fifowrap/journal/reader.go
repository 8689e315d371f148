package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"git.unix.lgbt/diamondburned/fifowrap/fifowrap/journal/backwardio"
	"github.com/pkg/errors"
)

// Entry is a single decoded journal event.
type Entry struct {
	Time  time.Time
	Event fifowrap.Event
}

// Reader implements a primitive reader that parses journals written by Writer
// from the newest event to the oldest.
type Reader struct {
	s *backwardio.Scanner
}

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads a single entry, starting from the bottom of the file. An EOF
// error is returned if the file has been fully consumed.
func (r *Reader) Read() (Entry, error) {
	var line []byte
	var err error

	for {
		line, err = r.s.ReadUntil('\n')
		if err != nil {
			return Entry{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return Entry{}, errors.Wrap(err, "failed to decode JSON")
	}

	event := fifowrap.NewEvent(rawEvent.Type)
	if event == nil {
		return Entry{}, fmt.Errorf("unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return Entry{}, errors.Wrap(err, "failed to decode event data")
	}

	return Entry{Time: rawEvent.Time, Event: event}, nil
}

// ReadLast reads up to n of the most recent entries, returned oldest first.
func ReadLast(r io.ReadSeeker, n int) ([]Entry, error) {
	jr := NewReader(r)
	entries := make([]Entry, 0, n)

	for len(entries) < n {
		e, err := jr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		entries = append(entries, e)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// ReadLastFromFile reads up to n of the most recent entries from the journal
// at path.
func ReadLastFromFile(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadLast(f, n)
}
