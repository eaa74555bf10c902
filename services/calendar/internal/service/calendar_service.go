package service

import (
	"context"
	"fmt"
	"time"

	"github.com/slotline/bookings-agent/internal/schedule"
	"github.com/slotline/bookings-agent/pkg/events"
	"github.com/slotline/bookings-agent/pkg/logger"
	"github.com/slotline/bookings-agent/services/calendar/internal/domain"
	"github.com/slotline/bookings-agent/services/calendar/internal/repository"
)

const (
	defaultMaxResults = 50
	linkBase          = "https://calendar.slotline.dev/events/"
)

type CalendarService interface {
	ListEvents(ctx context.Context, timeMin, timeMax string, maxResults int) ([]domain.Event, error)
	CreateEvent(ctx context.Context, req *domain.CreateEventRequest) (*domain.Event, error)
	DeleteEvent(ctx context.Context, id string) (bool, error)
	FindFreeSlot(ctx context.Context, windowStartISO, windowEndISO string, duration, padding time.Duration) (schedule.Slot, bool, error)
}

type calendarService struct {
	repo     repository.EventRepository
	eventBus events.EventBus
}

func NewCalendarService(repo repository.EventRepository, bus events.EventBus) CalendarService {
	return &calendarService{repo: repo, eventBus: bus}
}

func (s *calendarService) ListEvents(ctx context.Context, timeMin, timeMax string, maxResults int) ([]domain.Event, error) {
	from, err := domain.ParseTimestamp(timeMin)
	if err != nil {
		return nil, fmt.Errorf("invalid timeMin: %w", err)
	}
	to, err := domain.ParseTimestamp(timeMax)
	if err != nil {
		return nil, fmt.Errorf("invalid timeMax: %w", err)
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	evts, err := s.repo.ListRange(ctx, from, to, maxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	for i := range evts {
		evts[i].HTMLLink = linkBase + evts[i].ID
	}
	return evts, nil
}

func (s *calendarService) CreateEvent(ctx context.Context, req *domain.CreateEventRequest) (*domain.Event, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	start, _ := domain.ParseTimestamp(req.StartISO)
	end, _ := domain.ParseTimestamp(req.EndISO)

	evt, err := s.repo.Create(ctx, req, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	evt.HTMLLink = linkBase + evt.ID

	if err := s.eventBus.Publish(ctx, "calendar.event.created", evt); err != nil {
		logger.WarnContext(ctx, "Failed to publish create event", "error", err, "event_id", evt.ID)
	}

	return evt, nil
}

func (s *calendarService) DeleteEvent(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	if deleted {
		if err := s.eventBus.Publish(ctx, "calendar.event.deleted", map[string]string{"id": id}); err != nil {
			logger.WarnContext(ctx, "Failed to publish delete event", "error", err, "event_id", id)
		}
	}
	return deleted, nil
}

func (s *calendarService) FindFreeSlot(ctx context.Context, windowStartISO, windowEndISO string, duration, padding time.Duration) (schedule.Slot, bool, error) {
	windowStart, err := domain.ParseTimestamp(windowStartISO)
	if err != nil {
		return schedule.Slot{}, false, fmt.Errorf("invalid window_start_iso: %w", err)
	}
	windowEnd, err := domain.ParseTimestamp(windowEndISO)
	if err != nil {
		return schedule.Slot{}, false, fmt.Errorf("invalid window_end_iso: %w", err)
	}

	busy, err := s.repo.BusyRange(ctx, windowStart, windowEnd)
	if err != nil {
		return schedule.Slot{}, false, fmt.Errorf("failed to query busy intervals: %w", err)
	}

	return schedule.FindFreeSlot(windowStart, windowEnd, busy, duration, padding)
}
