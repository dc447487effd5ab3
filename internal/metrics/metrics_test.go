package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePassAndScrape(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObservePass(PassResult{
		Outcome:  "ok",
		Took:     2 * time.Second,
		At:       time.Unix(1700000000, 0),
		Known:    3,
		Observed: map[string]int{"BVG": 2, "S-Bahn": 1},
		New:      map[string]int{"BVG": 2},
		Resolved: map[string]int{"S-Bahn": 1},
	})
	m.ObserveFetch("BVG", time.Second, true)
	m.ObserveNotification("discord", "NEW", errors.New("x"))
	m.ObserveSave(true)

	if got := testutil.ToFloat64(m.NoticesKnown); got != 3 {
		t.Fatalf("known = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.NoticesNewTotal.WithLabelValues("BVG")); got != 2 {
		t.Fatalf("new{BVG} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("discord", "NEW", "error")); got != 1 {
		t.Fatalf("notifications error = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "stoerbot_passes_total") {
		t.Fatalf("scrape missing stoerbot_passes_total")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObservePass(PassResult{Outcome: "ok"})
	m.ObserveFetch("BVG", 0, false)
	m.ObserveNotification("discord", "NEW", nil)
	m.ObserveSave(false)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status = %d, want 404", rec.Code)
	}
}
