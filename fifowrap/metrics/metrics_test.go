package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournaler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	events := []fifowrap.Event{
		&fifowrap.EventChildSpawned{PID: 7},
		&fifowrap.EventRelayStarted{Generation: 1},
		&fifowrap.EventCommandRelayed{Command: "list"},
		&fifowrap.EventCommandRelayed{Command: "forge tps"},
		&fifowrap.EventSignalReceived{Signal: "SIGHUP", Action: "restarting proxy thread"},
		&fifowrap.EventRelayStopped{Generation: 1, Forced: true},
		&fifowrap.EventRelayStarted{Generation: 2},
		&fifowrap.EventSignalReceived{Signal: "SIGTERM", Action: "attempting graceful stop"},
		&fifowrap.EventShutdownStage{Stage: fifowrap.StageGraceful, PID: 7},
		&fifowrap.EventSignalIgnored{Signal: "SIGTERM", Reason: "shutdown is already in progress"},
		&fifowrap.EventShutdownStage{Stage: fifowrap.StageTerminate, PID: 7},
		&fifowrap.EventLinkWriteError{Command: "/stop", Error: "broken pipe"},
		&fifowrap.EventChildExited{PID: 7, ExitCode: -1, Signal: "terminated"},
		&fifowrap.EventShutdownFinished{PID: 7, Success: true},
	}

	for _, ev := range events {
		require.NoError(t, m.Write(ev))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linkErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayStarts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayRevokes))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.childUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.childExits.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("SIGTERM", "handled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("SIGTERM", "ignored")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.shutdownStage.WithLabelValues("graceful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shutdownStage.WithLabelValues("terminate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shutdownResult.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.shutdownTime))
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Write(&fifowrap.EventCommandRelayed{Command: "list"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := Serve(ctx, "127.0.0.1:0", reg, m)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fifowrap_commands_relayed_total 1")
}
