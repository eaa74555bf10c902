package domain

import (
	"fmt"
	"strings"
	"time"
)

// Event is a booked calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	StartTime   time.Time `json:"start"`
	EndTime     time.Time `json:"end"`
	HTMLLink    string    `json:"htmlLink"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateEventRequest struct {
	Summary     string
	StartISO    string
	EndISO      string
	Description string
	Attendees   []string
	Location    string
}

func (r *CreateEventRequest) Normalize() {
	r.Summary = strings.TrimSpace(r.Summary)
	r.Description = strings.TrimSpace(r.Description)
	r.Location = strings.TrimSpace(r.Location)
	for i, a := range r.Attendees {
		r.Attendees[i] = strings.ToLower(strings.TrimSpace(a))
	}
}

func (r *CreateEventRequest) Validate() error {
	if r.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	start, err := ParseTimestamp(r.StartISO)
	if err != nil {
		return fmt.Errorf("invalid start_iso: %w", err)
	}
	end, err := ParseTimestamp(r.EndISO)
	if err != nil {
		return fmt.Errorf("invalid end_iso: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("end_iso must be after start_iso")
	}
	return nil
}

// ParseTimestamp parses a timezone-qualified interchange string; a bare "Z"
// suffix means UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}
