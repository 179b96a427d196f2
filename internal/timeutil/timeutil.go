// Package timeutil parses and formats the timestamps exchanged with DataONE
// services.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// QueryLayout is the layout for fromDate/toDate query parameters.
const QueryLayout = "2006-01-02T15:04:05Z"

// Timestamps without a zone are UTC by convention.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Parse reads a service timestamp in any of the forms seen in node lists,
// listing documents and index responses. The result is in UTC.
func Parse(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// FormatQuery formats t for use as a fromDate/toDate parameter.
func FormatQuery(t time.Time) string {
	return t.UTC().Format(QueryLayout)
}

// Days converts a whole number of days to a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
