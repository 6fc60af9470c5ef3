package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brdge-ai/playersync/pkg/player/publish"
)

var _ publish.Stats = (*Metrics)(nil)

func TestMetrics_ExposedOnScrape(t *testing.T) {
	m := New("testsync")

	m.PublishSent("transcript_position")
	m.PublishSkipped("transcript_position", "duplicate")
	m.PublishDropped("slide_update")
	m.ViewerSessionStarted()
	m.EditFinished("committed")
	m.EditTokenRelayed()
	m.SaveAttempted("ok")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body := rr.Body.String()

	for _, want := range []string{
		`testsync_publish_sent_total{kind="transcript_position"} 1`,
		`testsync_publish_skipped_total{kind="transcript_position",reason="duplicate"} 1`,
		`testsync_publish_dropped_total{kind="slide_update"} 1`,
		`testsync_viewer_sessions_active 1`,
		`testsync_edits_total{outcome="committed"} 1`,
		`testsync_edit_tokens_total 1`,
		`testsync_saves_total{status="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}

func TestMetrics_SessionGaugeBalances(t *testing.T) {
	m := New("testsync")
	m.ViewerSessionStarted()
	m.ViewerSessionStarted()
	m.ViewerSessionEnded("closed")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "testsync_viewer_sessions_active 1") {
		t.Fatalf("gauge not balanced:\n%s", rr.Body.String())
	}
}
