package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/offline"
)

func testConfig(t *testing.T, serverURL string) *offline.AgentConfig {
	t.Helper()
	return &offline.AgentConfig{
		ServerURL:      serverURL,
		ListenAddr:     "127.0.0.1:1",
		QueuePath:      filepath.Join(t.TempDir(), "queue.db"),
		StoreID:        1,
		ActorID:        1,
		PollInterval:   time.Minute,
		ProbeInterval:  time.Minute,
		Retention:      24 * time.Hour,
		RequestTimeout: 2 * time.Second,
		BatchSize:      10,
	}
}

func seedQueue(t *testing.T, cfg *offline.AgentConfig, entries ...offline.Entry) {
	t.Helper()
	store, err := offline.OpenStore(context.Background(), cfg.QueuePath)
	require.NoError(t, err)
	defer store.Close()
	for _, e := range entries {
		_, err := store.Enqueue(context.Background(), e)
		require.NoError(t, err)
	}
}

func execute(t *testing.T, cfg *offline.AgentConfig, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{loadConfig: func() (*offline.AgentConfig, error) { return cfg, nil }})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusFallsBackToQueueFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	seedQueue(t, cfg,
		offline.Entry{Method: http.MethodPost, Target: "/api/inventory/sales"},
		offline.Entry{Method: http.MethodPost, Target: "/api/inventory/sales"},
	)

	out, err := execute(t, cfg, "status", "--json")
	require.NoError(t, err)

	var snap offline.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	require.Equal(t, 2, snap.Pending)
	require.Zero(t, snap.Dropped)
}

func TestDrainRunsLocalPassWhenAgentIsDown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	seedQueue(t, cfg,
		offline.Entry{Method: http.MethodPost, Target: "/api/inventory/sales", Body: []byte(`{"product_id":1,"quantity":1}`)},
		offline.Entry{Method: http.MethodPost, Target: "/api/inventory/sales", Body: []byte(`{"product_id":2,"quantity":1}`)},
	)

	out, err := execute(t, cfg, "drain", "--json")
	require.NoError(t, err)

	var res offline.DrainResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 2, res.Acked)
	require.Zero(t, res.Remaining)
	require.False(t, res.Halted)
	require.Equal(t, int32(2), hits.Load())
}

func TestPruneDropsExpiredEntries(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	seedQueue(t, cfg,
		offline.Entry{Method: http.MethodPost, Target: "/old", EnqueuedAt: time.Now().UTC().Add(-48 * time.Hour)},
		offline.Entry{Method: http.MethodPost, Target: "/new"},
	)

	out, err := execute(t, cfg, "prune")
	require.NoError(t, err)
	require.Contains(t, out, "dropped=1 remaining=1")
}
