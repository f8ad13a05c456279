package infrahub

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimestamp indicates a value that could not be parsed as a
// point in time.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// timestampLayouts are the accepted input formats, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a point in time rendered in the RFC 3339 form the server
// expects for "at" parameters. The zero value means "no timestamp".
type Timestamp struct {
	t time.Time
}

// Now returns a Timestamp for the current time.
func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

// NewTimestamp parses a timestamp from its string form. An empty string
// returns the current time.
func NewTimestamp(value string) (Timestamp, error) {
	if value == "" {
		return Now(), nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return Timestamp{t: parsed.UTC()}, nil
		}
	}

	return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// TimestampFromTime wraps an existing time.Time.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// Time returns the underlying time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// IsZero reports whether the timestamp is unset.
func (ts Timestamp) IsZero() bool {
	return ts.t.IsZero()
}

// String renders the timestamp as RFC 3339 with nanosecond precision.
func (ts Timestamp) String() string {
	return ts.t.Format(time.RFC3339Nano)
}
