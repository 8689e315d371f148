package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"git.unix.lgbt/diamondburned/fifowrap/fifowrap"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// Serve listens on addr and serves metrics until ctx is canceled. Listening
// errors are returned immediately; serving errors are logged into j.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, j fifowrap.Journaler) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen for metrics")
	}

	srv := &http.Server{
		Handler:           Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			j.Write(&fifowrap.EventWarning{
				Component: "metrics",
				Error:     err.Error(),
			})
		}
	}()

	return l.Addr(), nil
}
