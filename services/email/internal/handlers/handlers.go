// Package handlers exposes the OTP ledger as a tool backend: GET /tools
// lists the callable tools, POST /call invokes one.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/slotline/bookings-agent/pkg/events"
	"github.com/slotline/bookings-agent/pkg/logger"
	"github.com/slotline/bookings-agent/services/email/internal/ledger"
)

type Handlers struct {
	ledger   *ledger.Ledger
	eventBus events.EventBus
}

func New(l *ledger.Ledger, bus events.EventBus) *Handlers {
	return &Handlers{ledger: l, eventBus: bus}
}

type toolDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Input       map[string]string `json:"input"`
}

var toolDefs = []toolDef{
	{
		Name:        "send_email_otp",
		Description: "Send a verification code to the user's email.",
		Input:       map[string]string{"email": "string", "locale": "string?"},
	},
	{
		Name:        "verify_email_otp",
		Description: "Verify the OTP code received by email.",
		Input:       map[string]string{"email": "string", "code": "string"},
	},
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

	// The gateway strips the namespace; tolerate qualified names anyway.
	name := strings.TrimPrefix(payload.Name, "email.")
	args := payload.Arguments
	if args == nil {
		args = map[string]any{}
	}

	email, _ := args["email"].(string)
	if strings.TrimSpace(email) == "" {
		writeError(w, http.StatusBadRequest, "Bad args: email is required", "INVALID_INPUT")
		return
	}

	switch name {
	case "send_email_otp":
		locale, _ := args["locale"].(string)
		if locale == "" {
			locale = "en"
		}
		outcome, err := h.ledger.Issue(r.Context(), email, locale)
		if err != nil {
			logger.ErrorContext(r.Context(), "OTP issue failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if outcome.OK {
			h.publish(r, "otp.issued", map[string]any{"email": email})
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": outcome})

	case "verify_email_otp":
		code, _ := args["code"].(string)
		if strings.TrimSpace(code) == "" {
			writeError(w, http.StatusBadRequest, "Bad args: code is required", "INVALID_INPUT")
			return
		}
		outcome, err := h.ledger.Verify(r.Context(), email, code)
		if err != nil {
			logger.ErrorContext(r.Context(), "OTP verify failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if outcome.Verified {
			h.publish(r, "otp.verified", map[string]any{"email": email})
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": outcome})

	default:
		writeError(w, http.StatusNotFound, "Unknown tool: "+payload.Name, "NOT_FOUND")
	}
}

func (h *Handlers) publish(r *http.Request, subject string, data map[string]any) {
	if err := h.eventBus.Publish(r.Context(), subject, data); err != nil {
		logger.WarnContext(r.Context(), "Failed to publish event", "subject", subject, "error", err)
	}
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
