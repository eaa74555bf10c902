// Package intent turns loosely specified booking requests into concrete,
// timezone-qualified scheduling parameters.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultSummary = "Appointment"

var timeRE = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)

// Normalizer resolves under-specified booking arguments against a session
// timezone and a process-wide default duration. It is permissive and
// idempotent: already-concrete, timezone-qualified input comes back unchanged.
type Normalizer struct {
	loc             *time.Location
	defaultDuration time.Duration
	now             func() time.Time
}

func New(loc *time.Location, defaultDuration time.Duration) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if defaultDuration <= 0 {
		defaultDuration = 60 * time.Minute
	}
	return &Normalizer{
		loc:             loc,
		defaultDuration: defaultDuration,
		now:             time.Now,
	}
}

// WithClock overrides the normalizer's time source. Used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

func (n *Normalizer) Location() *time.Location { return n.loc }

func (n *Normalizer) DefaultDuration() time.Duration { return n.defaultDuration }

// ParseWhen extracts a desired start time from free text. "tomorrow" anchors
// the following day at 09:00; an explicit clock token (with optional am/pm)
// sets the time of day. A bare time already in the past is assumed to mean
// the next day.
func (n *Normalizer) ParseWhen(text string) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(text)
	now := n.now().In(n.loc)
	tomorrow := strings.Contains(lower, "tomorrow")

	base := now
	if tomorrow {
		base = dayAt(now.AddDate(0, 0, 1), 9, 0)
	}

	m := timeRE.FindStringSubmatch(lower)
	if m == nil {
		if tomorrow {
			return base, true
		}
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	when := dayAt(base, hour, minute)
	if !tomorrow && !when.After(now) {
		when = when.AddDate(0, 0, 1)
	}
	return when, true
}

// FallbackStart is tomorrow at 10:00 in the session timezone, used when
// neither the arguments nor the utterance carry a usable time.
func (n *Normalizer) FallbackStart() time.Time {
	return dayAt(n.now().In(n.loc).AddDate(0, 0, 1), 10, 0)
}

// WindowAround builds a symmetric search window centered on t.
func (n *Normalizer) WindowAround(t time.Time, span time.Duration) (time.Time, time.Time) {
	half := span / 2
	return t.Add(-half), t.Add(half)
}

// Normalize resolves summary, start_iso and end_iso on a booking call.
// Precedence for the start: a parseable start_iso argument (naive values get
// the session timezone, a bare Z suffix means UTC), then a time parsed from
// the utterance, then tomorrow 10:00. The end is a provided timezone-qualified
// end_iso, else start plus duration_minutes (default applies when absent).
// title and duration_minutes are consumed and removed.
func (n *Normalizer) Normalize(args map[string]any, utterance string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	summary := stringValue(out["summary"])
	if summary == "" {
		summary = stringValue(out["title"])
	}
	if summary == "" {
		summary = DefaultSummary
	}

	var start time.Time
	if s, ok := parseISO(stringValue(out["start_iso"]), n.loc); ok {
		start = s
	} else if s, ok := n.ParseWhen(utterance); ok {
		start = s
	} else {
		start = n.FallbackStart()
	}

	duration := n.defaultDuration
	if mins, ok := intValue(out["duration_minutes"]); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}

	var end time.Time
	if e, ok := parseISO(stringValue(out["end_iso"]), n.loc); ok && e.After(start) {
		end = e
	} else {
		end = start.Add(duration)
	}

	out["summary"] = summary
	out["start_iso"] = start.Format(time.RFC3339)
	out["end_iso"] = end.Format(time.RFC3339)
	delete(out, "title")
	delete(out, "duration_minutes")

	return out
}

// parseISO accepts RFC 3339 plus naive date-time variants; naive values are
// assigned loc so every output carries an offset.
func parseISO(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// intValue tolerates the types JSON-decoded proposer arguments arrive as.
func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func dayAt(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}
