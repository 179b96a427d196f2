package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/config"
	"github.com/datadavev/mnstatus/internal/dataonetest"
	"github.com/datadavev/mnstatus/internal/metrics"
	"github.com/datadavev/mnstatus/internal/probe"
	"github.com/datadavev/mnstatus/internal/registry"
	"github.com/datadavev/mnstatus/internal/server"
	"github.com/datadavev/mnstatus/internal/storage"
	"github.com/datadavev/mnstatus/internal/transport"
)

// TestIntegration_FullFlow verifies the complete pipeline:
// registry → cache → scheduler → checkers → API
func TestIntegration_FullFlow(t *testing.T) {
	// 1. A member node behind a self-signed certificate
	tlsNode := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mn/v2/monitor/ping" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer tlsNode.Close()

	// 2. Fake federation: one plain node, one TLS node
	base := time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)
	fed := dataonetest.New(
		dataonetest.Node{ID: "urn:node:PLAIN", Type: "mn", State: "up", Version: 2, Objects: []dataonetest.Object{
			{ID: "p1", Modified: base},
			{ID: "p2", Modified: base.Add(72 * time.Hour)},
		}},
		dataonetest.Node{ID: "urn:node:TLS", Type: "mn", State: "up", Version: 2, BaseURL: tlsNode.URL + "/mn"},
	)
	defer fed.Close()

	// 3. Open in-memory SQLite for the node list cache
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer db.Close()

	// 4. Build config and the service
	cfg := config.Default()
	cfg.Registry.BaseURL = fed.RegistryURL()
	cfg.HTTP.Timeout = config.Duration{Duration: 5 * time.Second}
	svc := probe.New(cfg, transport.New(nil), db, nil)
	m := metrics.New()
	svc.UseMetrics(m)

	// 5. Build API server
	apiServer := server.New(svc, m, nil)
	ts := httptest.NewServer(apiServer.Router())
	defer ts.Close()

	// 6. List nodes with ping and listing checks
	var list struct {
		Data  []registry.Node `json:"data"`
		Error string          `json:"error"`
	}
	getJSON(t, ts.URL+"/api/nodes?test=ping,mn", &list)
	if list.Error != "" {
		t.Fatalf("unexpected error: %s", list.Error)
	}
	if len(list.Data) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(list.Data))
	}

	plain, tls := list.Data[0], list.Data[1]
	if got := plain.Status[checker.Ping]; !got.OK() {
		t.Errorf("plain ping: expected 200, got %d (%s)", got.Status, got.Message)
	}
	mn := plain.Status[checker.MN]
	if mn.Count == nil || *mn.Count != 2 {
		t.Errorf("plain mn: expected count 2, got %v", mn.Count)
	}
	if mn.Earliest == nil || mn.Earliest.PID != "p1" || mn.Latest == nil || mn.Latest.PID != "p2" {
		t.Errorf("plain mn: unexpected boundaries %+v / %+v", mn.Earliest, mn.Latest)
	}

	ping := tls.Status[checker.Ping]
	if ping.Status != http.StatusOK || ping.Message != transport.NoCertValidation {
		t.Errorf("tls ping: expected 200 with %q, got %d %q", transport.NoCertValidation, ping.Status, ping.Message)
	}
	if got := tls.Status[checker.MN]; got.OK() {
		t.Errorf("tls mn: expected a failure from the bare TLS node, got %d", got.Status)
	}

	// 7. The node list was cached by the first request
	snaps, err := db.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Nodes != 2 {
		t.Errorf("expected one cached list of 2 nodes, got %+v", snaps)
	}

	// 8. A single node lookup reuses the cache
	var one struct {
		Data registry.Node `json:"data"`
	}
	getJSON(t, ts.URL+"/api/nodes/urn:node:PLAIN?test=ping", &one)
	if one.Data.ID != "urn:node:PLAIN" || len(one.Data.Status) != 1 {
		t.Errorf("unexpected node: %+v", one.Data)
	}
	if got := fed.Requests("node"); got != 1 {
		t.Errorf("expected 1 node list request, got %d", got)
	}

	// 9. Unknown node → 404
	resp, err := http.Get(ts.URL + "/api/nodes/urn:node:NOPE")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}
