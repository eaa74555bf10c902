package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/slotline/bookings-agent/internal/schedule"
	"github.com/slotline/bookings-agent/pkg/events"
	"github.com/slotline/bookings-agent/services/calendar/internal/domain"
)

type mockEventRepository struct {
	events    []domain.Event
	createErr error
}

func (m *mockEventRepository) Create(_ context.Context, req *domain.CreateEventRequest, start, end time.Time) (*domain.Event, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	evt := domain.Event{
		ID:          fmt.Sprintf("evt-%d", len(m.events)+1),
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Attendees:   req.Attendees,
		StartTime:   start,
		EndTime:     end,
		CreatedAt:   time.Now(),
	}
	m.events = append(m.events, evt)
	return &evt, nil
}

func (m *mockEventRepository) Delete(_ context.Context, id string) (bool, error) {
	for i, e := range m.events {
		if e.ID == id {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEventRepository) ListRange(_ context.Context, from, to time.Time, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range m.events {
		if e.StartTime.Before(to) && e.EndTime.After(from) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockEventRepository) BusyRange(ctx context.Context, from, to time.Time) ([]schedule.Interval, error) {
	evts, err := m.ListRange(ctx, from, to, 1000)
	if err != nil {
		return nil, err
	}
	out := make([]schedule.Interval, 0, len(evts))
	for _, e := range evts {
		out = append(out, schedule.Interval{Start: e.StartTime, End: e.EndTime})
	}
	return out, nil
}

func testService() (CalendarService, *mockEventRepository) {
	repo := &mockEventRepository{}
	return NewCalendarService(repo, events.NewNoopBus()), repo
}

func validRequest() *domain.CreateEventRequest {
	return &domain.CreateEventRequest{
		Summary:  "Haircut",
		StartISO: "2026-03-03T15:00:00+01:00",
		EndISO:   "2026-03-03T16:00:00+01:00",
	}
}

func TestCreateEvent(t *testing.T) {
	svc, repo := testService()

	evt, err := svc.CreateEvent(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if evt.ID == "" {
		t.Error("expected an id")
	}
	if evt.HTMLLink != linkBase+evt.ID {
		t.Errorf("unexpected link: %q", evt.HTMLLink)
	}
	if len(repo.events) != 1 {
		t.Errorf("expected one stored event, got %d", len(repo.events))
	}
}

func TestCreateEvent_Validation(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	req := validRequest()
	req.Summary = "  "
	if _, err := svc.CreateEvent(ctx, req); err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("expected validation error for blank summary, got %v", err)
	}

	req = validRequest()
	req.StartISO = "tomorrow at 3"
	if _, err := svc.CreateEvent(ctx, req); err == nil || !strings.Contains(err.Error(), "invalid start_iso") {
		t.Errorf("expected validation error for bad start, got %v", err)
	}

	req = validRequest()
	req.EndISO = req.StartISO
	if _, err := svc.CreateEvent(ctx, req); err == nil || !strings.Contains(err.Error(), "end_iso must be after") {
		t.Errorf("expected validation error for inverted range, got %v", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	evt, err := svc.CreateEvent(ctx, validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := svc.DeleteEvent(ctx, evt.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected event deleted")
	}

	deleted, err = svc.DeleteEvent(ctx, evt.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Error("expected second delete to report not found")
	}
}

func TestListEvents(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.CreateEvent(ctx, validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	evts, err := svc.ListEvents(ctx, "2026-03-03T00:00:00+01:00", "2026-03-04T00:00:00+01:00", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one event, got %d", len(evts))
	}
	if evts[0].HTMLLink == "" {
		t.Error("expected link attached to listed events")
	}

	evts, err = svc.ListEvents(ctx, "2026-03-10T00:00:00+01:00", "2026-03-11T00:00:00+01:00", 0)
	if err != nil {
		t.Fatalf("list out of range: %v", err)
	}
	if len(evts) != 0 {
		t.Errorf("expected empty range, got %d", len(evts))
	}

	if _, err := svc.ListEvents(ctx, "not a time", "2026-03-11T00:00:00+01:00", 0); err == nil {
		t.Error("expected error for invalid timeMin")
	}
}

func TestFindFreeSlot_AroundBookedEvent(t *testing.T) {
	svc, _ := testService()
	ctx := context.Background()

	if _, err := svc.CreateEvent(ctx, validRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The 15:00-16:00 booking leaves 13:00 as the earliest hour-long slot.
	slot, found, err := svc.FindFreeSlot(ctx,
		"2026-03-03T13:00:00+01:00", "2026-03-03T17:00:00+01:00",
		time.Hour, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !found {
		t.Fatal("expected a slot")
	}
	if got := slot.Start.Format(time.RFC3339); got != "2026-03-03T13:00:00+01:00" {
		t.Errorf("unexpected slot start: %s", got)
	}

	if _, _, err := svc.FindFreeSlot(ctx, "nope", "2026-03-03T17:00:00+01:00", time.Hour, 0); err == nil {
		t.Error("expected error for invalid window start")
	}
}
