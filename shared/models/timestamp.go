package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// legacyTimestampLayout matches timestamps written without a zone offset,
// as found in history files produced by the older dashboard. Fractional
// seconds are accepted when parsing even though the layout omits them.
const legacyTimestampLayout = "2006-01-02T15:04:05"

// ParseTimestamp parses an RFC 3339 timestamp, falling back to a zone-less
// ISO 8601 timestamp read in the local time zone. An empty string is the
// zero time.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimestampLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q is neither RFC 3339 nor ISO 8601 local time", raw)
	}
	return t.UTC(), nil
}

// UnmarshalJSON accepts zone-less legacy timestamps
func (r *IPChangeRecord) UnmarshalJSON(data []byte) error {
	type plain IPChangeRecord
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := ParseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	r.Timestamp = ts
	return nil
}

// UnmarshalJSON keeps DeviceName, which the promoted record decoder would
// otherwise drop.
func (c *IPChange) UnmarshalJSON(data []byte) error {
	if err := c.IPChangeRecord.UnmarshalJSON(data); err != nil {
		return err
	}
	var meta struct {
		DeviceName string `json:"device_name"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return err
	}
	c.DeviceName = meta.DeviceName
	return nil
}

// UnmarshalJSON accepts a zone-less legacy last_updated
func (a *AssignmentIndex) UnmarshalJSON(data []byte) error {
	type plain AssignmentIndex
	aux := struct {
		*plain
		LastUpdated string `json:"last_updated"`
	}{plain: (*plain)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := ParseTimestamp(aux.LastUpdated)
	if err != nil {
		return err
	}
	a.LastUpdated = ts
	return nil
}
