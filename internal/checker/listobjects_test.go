package checker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/datadavev/mnstatus/internal/checker"
	"github.com/datadavev/mnstatus/internal/dataonetest"
)

var (
	first = time.Date(2015, 3, 10, 8, 0, 0, 0, time.UTC)
	last  = now.Add(-10 * 24 * time.Hour)
)

func sampleObjects() []dataonetest.Object {
	return []dataonetest.Object{
		{ID: "middle", Modified: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "last", Modified: last},
		{ID: "first", Modified: first},
	}
}

func TestListChecker_MN(t *testing.T) {
	node := dataonetest.Node{ID: "urn:node:A", Type: "mn", State: "up", Version: 2, Objects: sampleObjects()}
	srv := dataonetest.New(node)
	defer srv.Close()

	result, err := newRunner(t, srv).Run(context.Background(), target(srv, node), checker.MN)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", result.Status, result.Message)
	}
	if result.Method != "mn.listObjects" {
		t.Errorf("unexpected method %q", result.Method)
	}
	if result.Count == nil || *result.Count != 3 {
		t.Fatalf("expected count 3, got %v", result.Count)
	}
	if diff := cmp.Diff(&checker.Boundary{Modified: first, PID: "first"}, result.Earliest); diff != "" {
		t.Errorf("earliest mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(&checker.Boundary{Modified: last, PID: "last"}, result.Latest); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}
	if result.Partial || result.Truncated {
		t.Errorf("unexpected partial=%v truncated=%v", result.Partial, result.Truncated)
	}
	if srv.Requests("cn.object") != 0 {
		t.Error("mn check must not query the registry")
	}
}

func TestListChecker_CNFiltersByNode(t *testing.T) {
	a := dataonetest.Node{ID: "urn:node:A", Type: "mn", State: "up", Version: 2, Objects: sampleObjects()}
	b := dataonetest.Node{ID: "urn:node:B", Type: "mn", State: "up", Version: 2, Objects: []dataonetest.Object{
		{ID: "older", Modified: first.Add(-365 * 24 * time.Hour)},
	}}
	srv := dataonetest.New(a, b)
	defer srv.Close()

	result, _ := newRunner(t, srv).Run(context.Background(), target(srv, a), checker.CN)
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", result.Status, result.Message)
	}
	if result.Method != "cn.listObjects" || !strings.HasPrefix(result.URL, srv.RegistryURL()) {
		t.Errorf("unexpected method/url %q %q", result.Method, result.URL)
	}
	if result.Count == nil || *result.Count != 3 {
		t.Fatalf("expected count 3, got %v", result.Count)
	}
	if result.Earliest == nil || result.Earliest.PID != "first" {
		t.Errorf("expected earliest 'first', got %+v", result.Earliest)
	}
	if srv.Requests("mn.object") != 0 {
		t.Error("cn check must not query the member node")
	}
}

func TestListChecker_EmptyListingHasNoBoundaries(t *testing.T) {
	node := dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2}
	srv := dataonetest.New(node)
	defer srv.Close()

	result, _ := newRunner(t, srv).Run(context.Background(), target(srv, node), checker.MN)
	if result.Count == nil || *result.Count != 0 {
		t.Fatalf("expected count 0, got %v", result.Count)
	}
	if result.Earliest != nil || result.Latest != nil {
		t.Errorf("expected no boundaries, got %+v %+v", result.Earliest, result.Latest)
	}
	if got := srv.Requests("mn.object"); got != 1 {
		t.Errorf("expected only the count request, got %d", got)
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["earliest"]; ok {
		t.Error("earliest must be absent when count is 0")
	}
	if _, ok := decoded["latest"]; ok {
		t.Error("latest must be absent when count is 0")
	}
}

func TestListChecker_MalformedRecordsMarkPartial(t *testing.T) {
	objs := sampleObjects()
	objs = append(objs, dataonetest.Object{ID: "broken", Modified: last.Add(-time.Hour), Malformed: true})
	node := dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objs}
	srv := dataonetest.New(node)
	defer srv.Close()

	result, _ := newRunner(t, srv).Run(context.Background(), target(srv, node), checker.MN)
	if result.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", result.Status)
	}
	if !result.Partial {
		t.Error("expected partial result")
	}
	if !strings.Contains(result.Message, "malformed records skipped") {
		t.Errorf("expected dropped-record note, got %q", result.Message)
	}
	if result.Latest == nil || result.Latest.PID != "last" {
		t.Errorf("expected latest 'last', got %+v", result.Latest)
	}
}

func TestListChecker_TruncatedPage(t *testing.T) {
	var objs []dataonetest.Object
	for i := 5; i >= 0; i-- {
		objs = append(objs, dataonetest.Object{ID: string(rune('a' + i)), Modified: first.Add(time.Duration(i) * time.Hour)})
	}
	node := dataonetest.Node{ID: "A", Type: "mn", State: "up", Version: 2, Objects: objs}
	srv := dataonetest.New(node)
	srv.PageLimit = 2
	defer srv.Close()

	result, _ := newRunner(t, srv).Run(context.Background(), target(srv, node), checker.MN)
	if !result.Truncated {
		t.Error("expected truncated result")
	}
	if !strings.Contains(result.Message, "truncated") {
		t.Errorf("expected truncation note, got %q", result.Message)
	}
}

func TestListChecker_UpstreamFailure(t *testing.T) {
	srv := dataonetest.New()
	defer srv.Close()

	// unknown node path answers 404
	result, _ := newRunner(t, srv).Run(context.Background(), checker.Target{NodeID: "nope", BaseURL: srv.NodeURL("nope"), ServiceVersion: 2}, checker.MN)
	if result.Status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", result.Status)
	}
	if result.Count != nil {
		t.Errorf("expected no count, got %v", *result.Count)
	}
}
