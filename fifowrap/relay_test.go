package fifowrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mkfifo(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, unix.Mkfifo(path, 0600))

	return path
}

// writeFIFO connects to the FIFO as a writer, writes data and disconnects.
func writeFIFO(t *testing.T, path, data string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(data)
	require.NoError(t, err)
}

// lineRecorder is a LineWriter that records lines into a channel. If gate is
// set, every write waits for it before taking the line.
type lineRecorder struct {
	lines chan string
	gate  chan struct{}
	err   error
}

func newLineRecorder() *lineRecorder {
	return &lineRecorder{lines: make(chan string, 64)}
}

func (r *lineRecorder) WriteLineIf(line string, ok func() bool) error {
	if r.gate != nil {
		<-r.gate
	}
	if ok != nil && !ok() {
		return ErrWriteRevoked
	}
	r.lines <- line
	return r.err
}

func (r *lineRecorder) expect(t *testing.T, lines ...string) {
	t.Helper()

	for _, expect := range lines {
		select {
		case got := <-r.lines:
			assert.Equal(t, expect, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for line %q", expect)
		}
	}
}

func TestRelay(t *testing.T) {
	path := mkfifo(t)
	rec := newLineRecorder()
	j := mockJournal{}

	r := StartRelay(context.Background(), 1, path, rec, &j)

	writeFIFO(t, path, "say hello world\r\nlist\n\n  padded  \nno newline")
	rec.expect(t, "say hello world", "list", "", "  padded  ", "no newline")

	// The FIFO is reopened for the next writer.
	writeFIFO(t, path, "forge tps\n")
	rec.expect(t, "forge tps")

	assert.False(t, r.Stop(time.Second), "relay had to be revoked")

	select {
	case <-r.Done():
	default:
		t.Fatal("relay not done after Stop")
	}

	j.Verify(t, []Event{
		&EventRelayStarted{Generation: 1},
		&EventCommandRelayed{Command: "say hello world"},
		&EventCommandRelayed{Command: "forge tps"},
		&EventRelayStopped{Generation: 1},
	})
}

func TestRelayStopWhileOpening(t *testing.T) {
	path := mkfifo(t)
	j := mockJournal{}

	r := StartRelay(context.Background(), 3, path, newLineRecorder(), &j)

	// Give it time to block in open(2).
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	assert.False(t, r.Stop(time.Second))
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
	assert.Empty(t, j.Filter(&EventRelayError{}))
}

func TestRelayStopWhileReading(t *testing.T) {
	path := mkfifo(t)
	rec := newLineRecorder()

	r := StartRelay(context.Background(), 1, path, rec, &mockJournal{})

	// Stay connected without closing so the relay sits in read(2).
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WriteString("list\n")
	require.NoError(t, err)
	rec.expect(t, "list")

	assert.False(t, r.Stop(time.Second))
}

func TestRelayLinkErrors(t *testing.T) {
	path := mkfifo(t)
	rec := newLineRecorder()
	rec.err = errors.New("broken pipe")
	j := mockJournal{}

	r := StartRelay(context.Background(), 1, path, rec, &j)
	defer r.Stop(time.Second)

	writeFIFO(t, path, "a\nb\n")
	rec.expect(t, "a", "b")

	j.WaitFor(t, &EventLinkWriteError{Command: "b", Error: "broken pipe"}, time.Second)
	assert.Len(t, j.Filter(&EventLinkWriteError{}), 2)

	// Still alive.
	writeFIFO(t, path, "c\n")
	rec.expect(t, "c")
}

func TestRelayRevoked(t *testing.T) {
	path := mkfifo(t)
	rec := newLineRecorder()

	r := newRelay(context.Background(), 1, path, rec, &mockJournal{})
	r.revoked.Store(true)

	r.forward("stop\n")

	select {
	case line := <-rec.lines:
		t.Fatalf("revoked relay wrote %q", line)
	default:
	}
}

func TestRelayRevokedWhileWriting(t *testing.T) {
	path := mkfifo(t)
	rec := newLineRecorder()
	rec.gate = make(chan struct{})
	j := mockJournal{}

	r := StartRelay(context.Background(), 1, path, rec, &j)

	// The relay is now stuck waiting for the child link.
	writeFIFO(t, path, "/stop\n")
	j.WaitFor(t, &EventCommandRelayed{Command: "/stop"}, 5*time.Second)

	assert.True(t, r.Stop(10*time.Millisecond), "relay should have been revoked")

	close(rec.gate)

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not return after being revoked")
	}

	select {
	case line := <-rec.lines:
		t.Fatalf("revoked relay wrote %q", line)
	default:
	}

	assert.Empty(t, j.Filter(&EventLinkWriteError{}))
}

func TestRelayRetriesErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	rec := newLineRecorder()
	j := mockJournal{}

	r := newRelay(context.Background(), 1, path, rec, &j)
	r.RetryDelay = 10 * time.Millisecond
	r.start()
	defer r.Stop(time.Second)

	// The FIFO doesn't exist yet, so the relay keeps failing to open it.
	deadline := time.Now().Add(5 * time.Second)
	for len(j.Filter(&EventRelayError{})) < 2 {
		require.True(t, time.Now().Before(deadline), "relay did not retry")
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, unix.Mkfifo(path, 0600))

	writeFIFO(t, path, "list\n")
	rec.expect(t, "list")
}

func TestTrimLine(t *testing.T) {
	tests := map[string]string{
		"list\n":      "list",
		"list\r\n":    "list",
		"list":        "list",
		"\n":          "",
		"a\r\r\n":     "a\r",
		"say \\n\n":   "say \\n",
		"tab\there\n": "tab\there",
	}

	for in, expect := range tests {
		assert.Equal(t, expect, trimLine(in), "input %q", in)
	}
}
