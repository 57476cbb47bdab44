package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorProbeAndRestore(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMonitor(srv.URL+"/healthz", time.Minute, nil)
	var changes atomic.Int32
	m.OnChange(func(bool) { changes.Add(1) })

	require.False(t, m.Probe(context.Background()))
	require.False(t, m.Online())

	healthy.Store(true)
	require.True(t, m.Probe(context.Background()))
	select {
	case <-m.Restored():
	default:
		t.Fatal("expected restored signal")
	}
	require.EqualValues(t, 2, changes.Load())

	m.ReportSuccess()
	select {
	case <-m.Restored():
		t.Fatal("no transition, no signal")
	default:
	}
}

func TestMonitorProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(url, time.Minute, nil)
	require.False(t, m.Probe(context.Background()))
	require.False(t, m.Online())
}
