// Package timestamp provides ISO8601 parsing helpers for API time
// parameters. All times are normalized to UTC on parse.
package timestamp

import (
	"fmt"
	"time"
)

// acceptedLayouts are tried in order when parsing API time parameters.
// Devices and dashboards are not consistent about fractional seconds or
// zone designators.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Parse converts an ISO8601 string to UTC time. Layouts without a zone are
// interpreted as UTC.
func Parse(value string) (time.Time, error) {
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// ParseOptional parses an optional query parameter. Empty input yields a nil
// time, distinguishing "absent" from "zero".
func ParseOptional(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := Parse(value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Format renders a time as RFC3339 UTC for API responses.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
