package journal

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockJournaler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.json")

	j, err := NewFileLockJournaler(path)
	require.NoError(t, err)

	events := []fifowrap.Event{
		&fifowrap.EventChildSpawned{PID: 42},
		&fifowrap.EventCommandRelayed{Command: "say hi"},
		&fifowrap.EventShutdownStage{Stage: fifowrap.StageGraceful, PID: 42},
		&fifowrap.EventChildExited{PID: 42, ExitCode: 0},
	}

	for _, ev := range events {
		require.NoError(t, j.Write(ev))
	}

	t.Run("locked elsewhere", func(t *testing.T) {
		_, err := NewFileLockJournaler(path)
		assert.True(t, errors.Is(err, ErrLockedElsewhere), "unexpected error: %v", err)
	})

	t.Run("wait timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := NewFileLockJournalerWait(ctx, path)
		assert.True(t, errors.Is(err, ErrLockedElsewhere), "unexpected error: %v", err)
	})

	require.NoError(t, j.Close())

	t.Run("read last", func(t *testing.T) {
		entries, err := ReadLastFromFile(path, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, events[2], entries[0].Event)
		assert.Equal(t, events[3], entries[1].Event)
		assert.False(t, entries[1].Time.IsZero())
	})

	t.Run("read all", func(t *testing.T) {
		entries, err := ReadLastFromFile(path, 100)
		require.NoError(t, err)
		require.Len(t, entries, len(events))

		for i, e := range entries {
			assert.Equal(t, events[i], e.Event)
		}
	})

	t.Run("relock", func(t *testing.T) {
		j, err := NewFileLockJournaler(path)
		require.NoError(t, err)
		require.NoError(t, j.Close())
	})

	t.Run("wait for release", func(t *testing.T) {
		holder, err := NewFileLockJournaler(path)
		require.NoError(t, err)

		go func() {
			time.Sleep(100 * time.Millisecond)
			holder.Close()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		j, err := NewFileLockJournalerWait(ctx, path)
		require.NoError(t, err)
		require.NoError(t, j.Close())
	})
}

func TestReaderUnknownEvent(t *testing.T) {
	input := `{"time":"2021-04-13T05:35:00Z","type":"bogus","data":{}}` + "\n"

	_, err := NewReader(strings.NewReader(input)).Read()
	assert.EqualError(t, err, `unknown event "bogus"`)
}

func TestHumanWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewHumanWriter("fifowrap", &buf)

	require.NoError(t, w.Write(&fifowrap.EventSignalReceived{
		Signal: "SIGUSR2",
		Action: "enabling disk saves",
	}))
	require.NoError(t, w.Write(&fifowrap.EventShutdownFinished{Success: true}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	assert.True(t, strings.HasPrefix(lines[0], "[fifowrap:"))
	assert.True(t, strings.HasSuffix(lines[0], "] Received SIGUSR2, enabling disk saves."))
	assert.True(t, strings.HasSuffix(lines[1], "] Server successfully shut down."))
}

type failJournal struct{ err error }

func (j failJournal) Write(fifowrap.Event) error { return j.err }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer

	first := errors.New("first")
	w := MultiWriter(
		NewWriter(&a),
		failJournal{first},
		failJournal{errors.New("second")},
		NewWriter(&b),
	)

	err := w.Write(&fifowrap.EventFIFORecreated{Path: "/srv/input"})
	assert.Equal(t, first, err)

	assert.Contains(t, a.String(), `"type":"fifo recreated"`)
	assert.Contains(t, b.String(), `"path":"/srv/input"`)
}
