// Package backwardio implements a buffered scanner that scans backwards.
package backwardio

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var maxTok = bufio.MaxScanTokenSize

// Scanner reads delimited tokens from the end of a reader towards its start,
// similar to bufio except things are scanned backwards.
type Scanner struct {
	r    io.ReadSeeker
	buf  []byte // unconsumed bytes, starting at off
	off  int64
	init bool
}

// NewScanner creates a new backwards scanner. The reader is seeked around
// freely, so it must not be shared.
func NewScanner(r io.ReadSeeker) *Scanner {
	return &Scanner{r: r}
}

// ReadUntil returns the bytes between the last unconsumed delimiter and the
// end of the unconsumed region. The delimiter itself is dropped. io.EOF is
// returned once the start of the reader has been consumed.
func (s *Scanner) ReadUntil(delim byte) ([]byte, error) {
	if !s.init {
		end, err := s.r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find end of file")
		}

		s.off = end
		s.init = true
	}

	for {
		if i := bytes.LastIndexByte(s.buf, delim); i >= 0 {
			tok := s.buf[i+1:]
			s.buf = s.buf[:i]
			return tok, nil
		}

		if s.off == 0 {
			// Whatever's left is the first token of the file.
			if s.buf == nil {
				return nil, io.EOF
			}

			tok := s.buf
			s.buf = nil
			return tok, nil
		}

		if len(s.buf) >= maxTok {
			return nil, bufio.ErrTooLong
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// fill prepends the chunk right before the unconsumed region to the buffer.
func (s *Scanner) fill() error {
	n := int64(maxTok - len(s.buf))
	if n > s.off {
		n = s.off
	}

	if _, err := s.r.Seek(s.off-n, io.SeekStart); err != nil {
		return errors.Wrap(err, "failed to seek backwards")
	}

	chunk := make([]byte, n, n+int64(len(s.buf)))
	if _, err := io.ReadFull(s.r, chunk); err != nil {
		return errors.Wrap(err, "failed to read seeked chunk")
	}

	s.buf = append(chunk, s.buf...)
	s.off -= n

	return nil
}
