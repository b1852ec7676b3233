package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EnrichmentJob("events", "embedded")
		m.EnrichmentDropped("events")
		m.QueueDepth(3)
		m.EmbedLatency(time.Millisecond)
		m.Query("patterns", "complete", time.Millisecond)
		m.ToolCall("manage_session", "ok", time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExposition(t *testing.T) {
	m := New()
	m.EnrichmentDropped("events")
	m.EnrichmentDropped("events")
	m.EnrichmentJob("patterns", "embedded")
	m.QueueDepth(7)
	m.ToolCall("search_memory", "ok", 10*time.Millisecond)

	body := scrape(t, m)
	for _, line := range []string{
		`session_memory_enrichment_dropped_total{space="events"} 2`,
		`session_memory_enrichment_jobs_total{outcome="embedded",space="patterns"} 1`,
		`session_memory_enrichment_queue_depth 7`,
		`session_memory_mcp_tool_calls_total{outcome="ok",tool="search_memory"} 1`,
	} {
		assert.True(t, strings.Contains(body, line), "missing %s", line)
	}
}
