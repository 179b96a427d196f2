package checker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Boundary is the oldest or newest object seen by a check.
type Boundary struct {
	Modified time.Time  `json:"date"`
	PID      string     `json:"pid"`
	SID      string     `json:"sid,omitempty"`
	Uploaded *time.Time `json:"uploaded,omitempty"`
}

// CheckResult is the outcome of a single check. Status is an HTTP status
// code or one of the transport sentinel codes.
type CheckResult struct {
	Category Category
	Method   string
	URL      string
	Status   int
	Message  string
	Started  time.Time
	Elapsed  time.Duration
	// Count is the object count; nil when the count request failed.
	Count    *int64
	Earliest *Boundary
	Latest   *Boundary
	// Partial is set when records were dropped or a boundary is missing
	// despite a non-zero count.
	Partial bool
	// Truncated is set when a boundary was read from an incomplete page.
	Truncated bool
}

// OK reports whether the check succeeded.
func (r CheckResult) OK() bool {
	return r.Status == http.StatusOK
}

type resultJSON struct {
	Category  Category  `json:"category"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
	Started   time.Time `json:"tstamp"`
	Elapsed   float64   `json:"elapsed"`
	Count     *int64    `json:"count,omitempty"`
	Earliest  *Boundary `json:"earliest,omitempty"`
	Latest    *Boundary `json:"latest,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// MarshalJSON reports Elapsed in seconds.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Category:  r.Category,
		Method:    r.Method,
		URL:       r.URL,
		Status:    r.Status,
		Message:   r.Message,
		Started:   r.Started,
		Elapsed:   r.Elapsed.Seconds(),
		Count:     r.Count,
		Earliest:  r.Earliest,
		Latest:    r.Latest,
		Partial:   r.Partial,
		Truncated: r.Truncated,
	})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *CheckResult) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = CheckResult{
		Category:  raw.Category,
		Method:    raw.Method,
		URL:       raw.URL,
		Status:    raw.Status,
		Message:   raw.Message,
		Started:   raw.Started,
		Elapsed:   time.Duration(raw.Elapsed * float64(time.Second)),
		Count:     raw.Count,
		Earliest:  raw.Earliest,
		Latest:    raw.Latest,
		Partial:   raw.Partial,
		Truncated: raw.Truncated,
	}
	return nil
}

func (r *CheckResult) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if r.Message == "" {
		r.Message = msg
		return
	}
	r.Message = strings.Join([]string{r.Message, msg}, "; ")
}

// normalize enforces the count/boundary relationship of a listing or index
// result: boundaries only accompany a positive count.
func (r *CheckResult) normalize() {
	if r.Count == nil {
		r.Earliest, r.Latest = nil, nil
		return
	}
	if *r.Count == 0 {
		r.Earliest, r.Latest = nil, nil
		return
	}
	if r.Earliest == nil || r.Latest == nil {
		r.Partial = true
		r.note("boundary not found")
	}
}

func int64p(v int) *int64 {
	n := int64(v)
	return &n
}
