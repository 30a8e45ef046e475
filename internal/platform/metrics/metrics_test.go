package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	b, _ := io.ReadAll(rec.Body)
	return string(b)
}

func TestMetrics_counters_and_gauges(t *testing.T) {
	m := New()
	m.IncCommand("skip")
	m.IncCommand("skip")
	m.IncCommand("add")
	m.IncEventsBroadcast()
	m.IncRelayPublished()
	m.IncRelayReceived()
	m.IncPersistErrors()

	out := scrape(t, m, func() {
		m.SetFeeds(3)
		m.SetSubscribers(7)
	})

	for _, want := range []string{
		`watch_commands_total{kind="skip"} 2`,
		`watch_commands_total{kind="add"} 1`,
		"watch_events_broadcast_total 1",
		"watch_relay_published_total 1",
		"watch_relay_received_total 1",
		"watch_persist_errors_total 1",
		"watch_feeds 3",
		"watch_subscribers 7",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	for _, p := range []string{"/ok", "/bad", "/bad"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	out := scrape(t, m, nil)
	if !strings.Contains(out, "watch_requests_total 3") {
		t.Errorf("expected 3 requests counted:\n%s", out)
	}
	if !strings.Contains(out, "watch_errors_total 2") {
		t.Errorf("expected 2 errors counted:\n%s", out)
	}
}
