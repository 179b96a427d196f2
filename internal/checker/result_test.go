package checker_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/datadavev/mnstatus/internal/checker"
)

func TestCheckResult_JSON(t *testing.T) {
	count := int64(4)
	r := checker.CheckResult{
		Category: checker.MN,
		Method:   "mn.listObjects",
		URL:      "https://example.org/mn/v2/object",
		Status:   200,
		Started:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Elapsed:  1500 * time.Millisecond,
		Count:    &count,
		Earliest: &checker.Boundary{Modified: time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC), PID: "a"},
		Latest:   &checker.Boundary{Modified: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), PID: "z"},
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"elapsed":1.5`, `"count":4`, `"tstamp":"2024-01-01T00:00:00Z"`, `"pid":"a"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
	if strings.Contains(s, "partial") {
		t.Errorf("partial should be omitted when false: %s", s)
	}

	var back checker.CheckResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Elapsed != r.Elapsed || *back.Count != count || back.Latest.PID != "z" {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
