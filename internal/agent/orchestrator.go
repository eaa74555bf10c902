// Package agent coordinates the conversational booking flow: it owns session
// state, guards proposed tool calls behind email verification, and sequences
// the calendar and email backends.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slotline/bookings-agent/internal/intent"
	"github.com/slotline/bookings-agent/internal/proposer"
	"github.com/slotline/bookings-agent/internal/tools"
	"github.com/slotline/bookings-agent/pkg/logger"
)

const systemPrompt = `You are a friendly booking assistant.
Conversation rules:
- Start by asking what the user needs help with if they haven't asked anything yet.
- Before any calendar.* booking, you MUST verify the user's email via OTP.
- If the user provides an email, call email.send_email_otp with {email}.
- Only ask for the OTP code AFTER you've sent one (i.e., after email.send_email_otp).
- When the user provides a code, call email.verify_email_otp with {email, code}.
- After verification: if booking details are incomplete (missing title or duration), ASK concise follow-up questions to collect them.
- If the user agrees to defaults, use title='Appointment' and duration=60 minutes.
- Once details are sufficient, call calendar.* tools to book.
- Keep responses short and specific.`

const replyCannotComplete = "Sorry, I couldn't complete that. Could you rephrase your request?"

// ToolInvoker executes one namespaced tool call; satisfied by tools.Gateway.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any, verified bool) (any, error)
}

// Orchestrator drives one conversational turn at a time per session.
type Orchestrator struct {
	proposer   proposer.Proposer
	invoker    ToolInvoker
	catalog    []tools.Schema
	schemas    map[string]tools.Schema
	normalizer *intent.Normalizer
	sessions   *SessionStore
	windowSpan time.Duration
}

func NewOrchestrator(
	p proposer.Proposer,
	invoker ToolInvoker,
	catalog []tools.Schema,
	normalizer *intent.Normalizer,
	sessions *SessionStore,
	windowSpan time.Duration,
) *Orchestrator {
	schemas := make(map[string]tools.Schema, len(catalog))
	for _, s := range catalog {
		schemas[s.Name] = s
	}
	if windowSpan <= 0 {
		windowSpan = 4 * time.Hour
	}
	return &Orchestrator{
		proposer:   p,
		invoker:    invoker,
		catalog:    catalog,
		schemas:    schemas,
		normalizer: normalizer,
		sessions:   sessions,
		windowSpan: windowSpan,
	}
}

// Turn processes one user utterance and returns the assistant reply. The
// session stays locked until the state update has committed, so a new turn
// never observes a half-applied previous one.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, userText string) (string, error) {
	sess := o.sessions.Get(sessionID)
	sess.lock()
	defer sess.unlock()

	o.captureEmail(sess, userText)

	if len(sess.History) == 0 {
		sess.History = append(sess.History, proposer.Message{Role: "system", Content: systemPrompt})
	}
	sess.History = append(sess.History, proposer.Message{Role: "user", Content: userText})

	prop, err := o.proposer.Propose(ctx, sess.History, o.catalog)
	if err != nil {
		return "", fmt.Errorf("proposer failed: %w", err)
	}

	if len(prop.ToolCalls) == 0 {
		return o.reply(sess, orFallback(prop.Content)), nil
	}

	var toolMessages []proposer.Message
	for _, tc := range prop.ToolCalls {
		call := &requestedCall{id: tc.ID, name: tc.Function.Name}
		if err := json.Unmarshal(orEmptyObject(tc.Function.Arguments), &call.args); err != nil {
			logger.WarnContext(ctx, "Proposer produced undecodable arguments", "tool", call.name, "error", err)
			return o.reply(sess, replyCannotComplete), nil
		}
		if call.args == nil {
			call.args = map[string]any{}
		}

		for _, stage := range o.guardStages() {
			if refusal := stage(sess, call, userText); refusal != "" {
				return o.reply(sess, refusal), nil
			}
		}

		if call.isCalendar() {
			if call.name == toolFindFreeSlot || wantsAvailability(userText) {
				return o.runAvailabilitySearch(ctx, sess, call, userText)
			}
			if call.name == toolCreateEvent {
				o.resolveCreateArgs(sess, call, userText)
			}
		}

		if schema, ok := o.schemas[call.name]; ok {
			if err := tools.ValidateArgs(schema, call.args); err != nil {
				logger.WarnContext(ctx, "Proposed tool call failed validation", "tool", call.name, "error", err)
				return o.reply(sess, replyCannotComplete), nil
			}
		} else {
			logger.WarnContext(ctx, "Proposer requested unknown tool", "tool", call.name)
			return o.reply(sess, replyCannotComplete), nil
		}

		result, err := o.invoker.Invoke(ctx, call.name, call.args, sess.Verified)
		if err != nil {
			var vErr *tools.ValidationError
			if errors.As(err, &vErr) {
				return o.reply(sess, replyCannotComplete), nil
			}
			return "", err
		}

		o.applyResult(sess, call, result)

		content, _ := json.Marshal(result)
		toolMessages = append(toolMessages, proposer.Message{
			Role:       "tool",
			ToolCallID: call.id,
			Name:       call.name,
			Content:    string(content),
		})
	}

	sess.History = append(sess.History, proposer.Message{
		Role:      "assistant",
		Content:   prop.Content,
		ToolCalls: prop.ToolCalls,
	})
	sess.History = append(sess.History, toolMessages...)

	final, err := o.proposer.Propose(ctx, sess.History, o.catalog)
	if err != nil {
		return "", fmt.Errorf("proposer failed: %w", err)
	}
	return o.reply(sess, orFallback(final.Content)), nil
}

// captureEmail records an email-shaped token as the session's candidate
// address. A different address than the verified one resets verification.
func (o *Orchestrator) captureEmail(sess *Session, userText string) {
	email := extractEmail(userText)
	if email == "" {
		return
	}
	email = strings.ToLower(email)
	if sess.Email != "" && email != sess.Email && sess.Verified {
		sess.Verified = false
		sess.State = StateCollectingEmail
	}
	sess.Email = email
	if sess.State == StateIdle {
		sess.State = StateCollectingEmail
	}
}

// runAvailabilitySearch forces the find-free-slot path: it derives a desired
// anchor time from the utterance, searches a symmetric window around it, and
// on success caches the slot and asks for confirmation instead of booking.
func (o *Orchestrator) runAvailabilitySearch(ctx context.Context, sess *Session, call *requestedCall, utterance string) (string, error) {
	call.name = toolFindFreeSlot

	duration := o.normalizer.DefaultDuration()
	if mins, ok := intArg(call.args["duration_minutes"]); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}
	pad := 0
	if p, ok := intArg(call.args["pad_minutes"]); ok && p > 0 {
		pad = p
	}

	desired, ok := o.normalizer.ParseWhen(utterance)
	if !ok {
		desired = o.normalizer.FallbackStart()
	}
	windowStart, windowEnd := o.normalizer.WindowAround(desired, o.windowSpan)

	call.args = map[string]any{
		"duration_minutes": int(duration / time.Minute),
		"window_start_iso": windowStart.Format(time.RFC3339),
		"window_end_iso":   windowEnd.Format(time.RFC3339),
		"pad_minutes":      pad,
	}

	result, err := o.invoker.Invoke(ctx, call.name, call.args, sess.Verified)
	if err != nil {
		return "", err
	}

	slot := asMap(result)
	start, _ := slot["start"].(string)
	end, _ := slot["end"].(string)
	if start != "" && end != "" {
		sess.PendingSlot = &PendingSlot{StartISO: start, EndISO: end}
		return o.reply(sess, fmt.Sprintf("I found a free slot from %s to %s. Do you want me to book it?", start, end)), nil
	}
	return o.reply(sess, "I couldn't find a free slot in that window. Would you like me to search a wider time range?"), nil
}

// resolveCreateArgs prefers a cached pending slot over freshly normalized
// times; the slot is consumed so a second affirmation cannot reuse it.
func (o *Orchestrator) resolveCreateArgs(sess *Session, call *requestedCall, utterance string) {
	if slot := sess.PendingSlot; slot != nil {
		call.args["start_iso"] = slot.StartISO
		call.args["end_iso"] = slot.EndISO
		sess.PendingSlot = nil

		if summary, _ := call.args["summary"].(string); summary == "" {
			if title, _ := call.args["title"].(string); title != "" {
				call.args["summary"] = title
			} else {
				call.args["summary"] = intent.DefaultSummary
			}
		}
		delete(call.args, "title")
		delete(call.args, "duration_minutes")
		return
	}
	call.args = o.normalizer.Normalize(call.args, utterance)
}

// applyResult commits the FSM transition the executed call implies.
func (o *Orchestrator) applyResult(sess *Session, call *requestedCall, result any) {
	res := asMap(result)
	switch call.name {
	case toolSendOTP:
		if ok, _ := res["ok"].(bool); ok {
			sess.State = StateOTPSent
			if email, _ := call.args["email"].(string); email != "" {
				sess.Email = strings.ToLower(email)
			}
		}
	case toolVerifyOTP:
		okFlag, _ := res["ok"].(bool)
		verifiedFlag, _ := res["verified"].(bool)
		sess.Verified = okFlag && verifiedFlag
		if sess.Verified {
			sess.State = StateVerified
			o.injectResume(sess)
		} else {
			sess.State = StateOTPSent
		}
	}
}

// injectResume puts the deferred booking request back in front of the
// proposer so the conversation picks up where it left off before the
// verification detour.
func (o *Orchestrator) injectResume(sess *Session) {
	request := sess.PendingIntent
	if request == "" {
		for i := len(sess.History) - 1; i >= 0; i-- {
			if sess.History[i].Role == "user" {
				request = sess.History[i].Content
				break
			}
		}
	}
	if request == "" {
		return
	}
	sess.History = append(sess.History,
		proposer.Message{
			Role:    "system",
			Content: fmt.Sprintf("The user's email is verified. Please continue with their last request: %q.", request),
		},
		proposer.Message{
			Role:    "system",
			Content: "If the request lacks title or duration, ask for them now. Offer defaults (title='Appointment', duration=60 minutes) if user prefers.",
		},
	)
	sess.PendingIntent = ""
}

func (o *Orchestrator) reply(sess *Session, text string) string {
	sess.History = append(sess.History, proposer.Message{Role: "assistant", Content: text})
	return text
}

func orFallback(content string) string {
	if strings.TrimSpace(content) == "" {
		return "(no response)"
	}
	return content
}

func orEmptyObject(raw string) []byte {
	if strings.TrimSpace(raw) == "" {
		return []byte("{}")
	}
	return []byte(raw)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func intArg(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return i, true
		}
	}
	return 0, false
}
