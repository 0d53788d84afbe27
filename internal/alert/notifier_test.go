package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNoOpNotifier(t *testing.T) {
	var n Notifier = NewNoOpNotifier()
	assert.NoError(t, n.Send("anything"))
	assert.NoError(t, n.Close())
}

func TestWebhookNotifier_DeliversQueuedMessages(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, body["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	require.NoError(t, n.Send("ENTRY CE 22500"))
	require.NoError(t, n.Send("EXIT Take Profit"))
	require.NoError(t, n.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ENTRY CE 22500", "EXIT Take Profit"}, got)
}

func TestWebhookNotifier_SendAfterClose(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:0", time.Second, zap.NewNop())
	require.NoError(t, n.Close())
	assert.Error(t, n.Send("late"))
	assert.NoError(t, n.Close(), "close is idempotent")
}

func TestWebhookNotifier_ServerErrorIsLoggedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	assert.NoError(t, n.Send("x"))
	assert.NoError(t, n.Close())
}
