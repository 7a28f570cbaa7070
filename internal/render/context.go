// Package render turns a per-request RenderContext into HTML markup.
package render

import "time"

// TimestampLayout matches JavaScript's Date.prototype.toJSON output.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// RenderContext is the data bundle handed to the page component. It is built
// fresh for every request and never mutated.
type RenderContext struct {
	Name      string
	Timestamp string
}

// NewRenderContext captures name and the serialized instant now.
func NewRenderContext(name string, now time.Time) RenderContext {
	return RenderContext{
		Name:      name,
		Timestamp: FormatTimestamp(now),
	}
}

// FormatTimestamp serializes t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}
