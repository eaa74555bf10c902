// Package handlers exposes the calendar as a tool backend: GET /tools lists
// the callable tools, POST /call invokes one. Mutating tools require the
// caller-is-verified signal.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotline/bookings-agent/pkg/auth"
	"github.com/slotline/bookings-agent/pkg/config"
	"github.com/slotline/bookings-agent/pkg/logger"
	"github.com/slotline/bookings-agent/services/calendar/internal/domain"
	"github.com/slotline/bookings-agent/services/calendar/internal/service"
)

type Handlers struct {
	calendar service.CalendarService
	authCfg  config.AuthConfig
}

func New(calendar service.CalendarService, authCfg config.AuthConfig) *Handlers {
	return &Handlers{calendar: calendar, authCfg: authCfg}
}

type toolDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Input       map[string]string `json:"input"`
}

var toolDefs = []toolDef{
	{
		Name:        "list_calendar_events",
		Description: "List events in a time range (ISO-8601 with timezone).",
		Input:       map[string]string{"timeMin": "string", "timeMax": "string", "maxResults": "int?"},
	},
	{
		Name:        "create_calendar_event",
		Description: "Create a calendar event.",
		Input: map[string]string{
			"summary": "string", "start_iso": "string", "end_iso": "string",
			"description": "string?", "attendees": "list[str]?", "location": "string?",
		},
	},
	{
		Name:        "delete_calendar_event",
		Description: "Delete an event by ID.",
		Input:       map[string]string{"event_id": "string"},
	},
	{
		Name:        "find_free_slot",
		Description: "Find the first free slot of given duration within a window.",
		Input: map[string]string{
			"duration_minutes": "int", "window_start_iso": "string",
			"window_end_iso": "string", "pad_minutes": "int?",
		},
	},
}

// mutating tools need proof that the booking email was verified.
var mutatingTools = map[string]bool{
	"create_calendar_event": true,
	"delete_calendar_event": true,
}

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": toolDefs})
}

type callPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (h *Handlers) Call(w http.ResponseWriter, r *http.Request) {
	var payload callPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	name := strings.TrimPrefix(payload.Name, "calendar.")
	args := payload.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if mutatingTools[name] && !h.callerVerified(r) {
		writeError(w, http.StatusForbidden, "Caller is not verified for mutating calendar operations", "FORBIDDEN")
		return
	}

	switch name {
	case "list_calendar_events":
		h.listEvents(w, r, args)
	case "create_calendar_event":
		h.createEvent(w, r, args)
	case "delete_calendar_event":
		h.deleteEvent(w, r, args)
	case "find_free_slot":
		h.findFreeSlot(w, r, args)
	default:
		writeError(w, http.StatusNotFound, "Unknown tool: "+payload.Name, "NOT_FOUND")
	}
}

// callerVerified accepts a signed verified-claim token; in dev mode a bare
// X-Verified header is enough, matching how local stacks run without the
// agent's signing secret.
func (h *Handlers) callerVerified(r *http.Request) bool {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimPrefix(header, "Bearer ")
		if _, err := auth.ParseVerifiedToken(token, h.authCfg.Secret); err == nil {
			return true
		}
		logger.WarnContext(r.Context(), "Rejected invalid verified token")
	}
	return h.authCfg.DevMode && r.Header.Get("X-Verified") == "true"
}

func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request, args map[string]any) {
	timeMin := stringArg(args, "timeMin")
	timeMax := stringArg(args, "timeMax")
	if timeMin == "" || timeMax == "" {
		writeError(w, http.StatusBadRequest, "Bad arguments: timeMin and timeMax are required", "INVALID_INPUT")
		return
	}

	evts, err := h.calendar.ListEvents(r.Context(), timeMin, timeMax, intArg(args, "maxResults"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(evts))
	for _, e := range evts {
		out = append(out, map[string]any{
			"id":       e.ID,
			"summary":  e.Summary,
			"start":    e.StartTime.Format(time.RFC3339),
			"end":      e.EndTime.Format(time.RFC3339),
			"htmlLink": e.HTMLLink,
		})
	}
	writeResult(w, out)
}

func (h *Handlers) createEvent(w http.ResponseWriter, r *http.Request, args map[string]any) {
	req := &domain.CreateEventRequest{
		Summary:     stringArg(args, "summary"),
		StartISO:    stringArg(args, "start_iso"),
		EndISO:      stringArg(args, "end_iso"),
		Description: stringArg(args, "description"),
		Location:    stringArg(args, "location"),
		Attendees:   stringSliceArg(args, "attendees"),
	}

	evt, err := h.calendar.CreateEvent(r.Context(), req)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	writeResult(w, map[string]any{"id": evt.ID, "htmlLink": evt.HTMLLink})
}

func (h *Handlers) deleteEvent(w http.ResponseWriter, r *http.Request, args map[string]any) {
	id := stringArg(args, "event_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Bad arguments: event_id is required", "INVALID_INPUT")
		return
	}

	deleted, err := h.calendar.DeleteEvent(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Event not found: "+id, "NOT_FOUND")
		return
	}
	writeResult(w, map[string]any{"deleted": true, "id": id})
}

func (h *Handlers) findFreeSlot(w http.ResponseWriter, r *http.Request, args map[string]any) {
	duration := intArg(args, "duration_minutes")
	windowStart := stringArg(args, "window_start_iso")
	windowEnd := stringArg(args, "window_end_iso")
	if duration <= 0 || windowStart == "" || windowEnd == "" {
		writeError(w, http.StatusBadRequest, "Bad arguments: duration_minutes, window_start_iso and window_end_iso are required", "INVALID_INPUT")
		return
	}
	pad := intArg(args, "pad_minutes")
	if pad < 0 {
		pad = 0
	}

	slot, found, err := h.calendar.FindFreeSlot(r.Context(), windowStart, windowEnd,
		time.Duration(duration)*time.Minute, time.Duration(pad)*time.Minute)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if !found {
		writeResult(w, map[string]any{"start": nil, "end": nil})
		return
	}
	writeResult(w, map[string]any{
		"start": slot.Start.Format(time.RFC3339),
		"end":   slot.End.Format(time.RFC3339),
	})
}

// serviceError maps validation failures to 400 and everything else to 500.
func (h *Handlers) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	if strings.Contains(msg, "validation failed") || strings.Contains(msg, "invalid ") {
		writeError(w, http.StatusBadRequest, msg, "INVALID_INPUT")
		return
	}
	logger.ErrorContext(r.Context(), "Calendar tool call failed", "error", err)
	writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
		"code":  code,
	})
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
