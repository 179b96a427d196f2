package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datadavev/mnstatus/internal/admission"
	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/transport"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeOK, metrics.Outcome(200))
	assert.Equal(t, metrics.OutcomeHTTP, metrics.Outcome(503))
	assert.Equal(t, metrics.OutcomeTransport, metrics.Outcome(transport.StatusReadTimeout))
	assert.Equal(t, metrics.OutcomeTransport, metrics.Outcome(0))
}

func TestObserve(t *testing.T) {
	m := metrics.New()
	m.Observe("A", checker.CheckResult{Category: checker.Ping, Status: 200, Elapsed: 10 * time.Millisecond})
	m.Observe("B", checker.CheckResult{Category: checker.Ping, Status: transport.StatusConnection})
	m.Observe("C", checker.CheckResult{Category: checker.Ping, Status: 200})

	out := scrape(t, m)
	assert.Contains(t, out, `mnstatus_checks_total{category="ping",outcome="ok"} 2`)
	assert.Contains(t, out, `mnstatus_checks_total{category="ping",outcome="transport_error"} 1`)
	assert.Contains(t, out, `mnstatus_check_duration_seconds_count{category="ping"} 3`)
}

func TestAdmitter_TracksInFlight(t *testing.T) {
	m := metrics.New()
	a := m.Admitter(admission.New(map[checker.Category]int{checker.CN: 2}))

	assert.True(t, a.TryAdmit(checker.CN))
	assert.True(t, a.TryAdmit(checker.CN))
	assert.False(t, a.TryAdmit(checker.CN))

	n, err := testutil.GatherAndCount(m.Registry(), "mnstatus_checks_in_flight")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, scrape(t, m), `mnstatus_checks_in_flight{category="cn"} 2`)

	a.Release(checker.CN)
	assert.Contains(t, scrape(t, m), `mnstatus_checks_in_flight{category="cn"} 1`)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/nodes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes/"+id, nil))
	}

	out := scrape(t, m)
	assert.Contains(t, out, `mnstatus_http_requests_total{method="GET",path="/api/nodes/{id}",status="404"} 2`)
	assert.NotContains(t, out, `path="/api/nodes/a"`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(body))
}
