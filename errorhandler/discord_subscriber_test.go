package errorhandler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordSubscriber_ForwardsReportsAtOrAboveMinLevel(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	h := New()
	h.Subscribe(NewDiscordSubscriber(srv.URL, Critical))

	h.Report(ErrorInfo{Level: Warning, Category: Connection, Component: "x", Operation: "y", Message: "below threshold"})

	select {
	case <-received:
		t.Fatal("subscriber forwarded a below-threshold report")
	case <-time.After(100 * time.Millisecond):
	}

	h.Report(ErrorInfo{Level: Critical, Category: System, Component: "x", Operation: "y", Message: "at threshold"})

	select {
	case method := <-received:
		assert.Equal(t, http.MethodPost, method)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never forwarded the critical report")
	}
}

func TestDiscordSubscriber_UnreachableWebhookDoesNotPanic(t *testing.T) {
	h := New()
	require.NotPanics(t, func() {
		h.Subscribe(NewDiscordSubscriber("http://127.0.0.1:1", Info))
		h.Report(ErrorInfo{Level: Critical, Category: System, Component: "x", Operation: "y", Message: "unreachable"})
	})
}
