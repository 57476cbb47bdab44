package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderIdentityHeadersWin(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := AgentConfig{StoreID: 3, ActorID: 7}
	sender := NewSender(srv.URL, time.Second, cfg.IdentityHeaders())
	res, err := sender.Send(context.Background(), http.MethodPost, "/api/inventory/sales",
		map[string]string{"X-Store-ID": "99", "X-Actor-ID": "99", "X-Client": "till-2"}, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "3", got.Get("X-Store-ID"))
	require.Equal(t, "7", got.Get("X-Actor-ID"))
	require.Equal(t, "till-2", got.Get("X-Client"))
	require.Equal(t, "application/json", got.Get("Content-Type"))
}
