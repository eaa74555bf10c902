package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/slotline/bookings-agent/internal/intent"
	"github.com/slotline/bookings-agent/internal/proposer"
	"github.com/slotline/bookings-agent/internal/tools"
)

// mockProposer replays a scripted queue of proposals.
type mockProposer struct {
	queue []*proposer.Proposal
}

func (m *mockProposer) Propose(_ context.Context, _ []proposer.Message, _ []tools.Schema) (*proposer.Proposal, error) {
	if len(m.queue) == 0 {
		return &proposer.Proposal{Content: "Anything else?"}, nil
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p, nil
}

func (m *mockProposer) push(p *proposer.Proposal) { m.queue = append(m.queue, p) }

func toolCall(name, args string) *proposer.Proposal {
	return &proposer.Proposal{ToolCalls: []proposer.ToolCall{{
		ID:       "call-1",
		Type:     "function",
		Function: proposer.FunctionCall{Name: name, Arguments: args},
	}}}
}

type invocation struct {
	name     string
	args     map[string]any
	verified bool
}

// mockInvoker records every call and replays scripted results.
type mockInvoker struct {
	calls   []invocation
	results []any
}

func (m *mockInvoker) Invoke(_ context.Context, name string, args map[string]any, verified bool) (any, error) {
	m.calls = append(m.calls, invocation{name: name, args: args, verified: verified})
	if len(m.results) == 0 {
		return map[string]any{"ok": true}, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockInvoker) pushResult(r any) { m.results = append(m.results, r) }

func testCatalog() []tools.Schema {
	return []tools.Schema{
		{Name: "calendar.create_calendar_event", Params: map[string]tools.Param{
			"summary":     {Type: "string", Required: true},
			"start_iso":   {Type: "string", Required: true},
			"end_iso":     {Type: "string", Required: true},
			"description": {Type: "string"},
			"attendees":   {Type: "any"},
			"location":    {Type: "string"},
		}},
		{Name: "calendar.find_free_slot", Params: map[string]tools.Param{
			"duration_minutes": {Type: "integer", Required: true},
			"window_start_iso": {Type: "string", Required: true},
			"window_end_iso":   {Type: "string", Required: true},
			"pad_minutes":      {Type: "integer"},
		}},
		{Name: "calendar.delete_calendar_event", Params: map[string]tools.Param{
			"event_id": {Type: "string", Required: true},
		}},
		{Name: "email.send_email_otp", Params: map[string]tools.Param{
			"email":  {Type: "string", Required: true},
			"locale": {Type: "string"},
		}},
		{Name: "email.verify_email_otp", Params: map[string]tools.Param{
			"email": {Type: "string", Required: true},
			"code":  {Type: "string", Required: true},
		}},
	}
}

func testOrchestrator(t *testing.T) (*Orchestrator, *mockProposer, *mockInvoker, *SessionStore) {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	fixed := time.Date(2026, 3, 2, 14, 0, 0, 0, loc)
	norm := intent.New(loc, 60*time.Minute).WithClock(func() time.Time { return fixed })

	p := &mockProposer{}
	inv := &mockInvoker{}
	store := NewSessionStore()
	return NewOrchestrator(p, inv, testCatalog(), norm, store, 4*time.Hour), p, inv, store
}

func TestTurn_PlainReplyWithoutToolCalls(t *testing.T) {
	o, p, inv, _ := testOrchestrator(t)
	p.push(&proposer.Proposal{Content: "Hi! What can I do for you?"})

	reply, err := o.Turn(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "Hi! What can I do for you?" {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Errorf("no tools should run, got %v", inv.calls)
	}
}

func TestTurn_CalendarBlockedUntilVerified(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	p.push(toolCall("calendar.create_calendar_event", `{"summary":"Haircut"}`))

	utterance := "Book me a haircut tomorrow at 3pm"
	reply, err := o.Turn(context.Background(), "s1", utterance)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyAskVerify {
		t.Errorf("expected verification prompt, got %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("unverified call must never reach a backend, got %v", inv.calls)
	}

	sess := store.Get("s1")
	if sess.PendingIntent != utterance {
		t.Errorf("expected utterance deferred for resume, got %q", sess.PendingIntent)
	}
}

func TestTurn_SendOTPWithoutAnyEmailAsksForOne(t *testing.T) {
	o, p, inv, _ := testOrchestrator(t)
	p.push(toolCall("email.send_email_otp", `{}`))

	reply, err := o.Turn(context.Background(), "s1", "send me a code")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyAskEmail {
		t.Errorf("expected email prompt, got %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Errorf("send must not run without an address, got %v", inv.calls)
	}
}

func TestTurn_SendOTPFillsEmailFromUtterance(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	p.push(toolCall("email.send_email_otp", `{}`))
	p.push(&proposer.Proposal{Content: "Code sent, check your inbox."})
	inv.pushResult(map[string]any{"ok": true, "ttlSeconds": float64(600)})

	reply, err := o.Turn(context.Background(), "s1", "My email is John@Example.COM")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "Code sent, check your inbox." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(inv.calls) != 1 || inv.calls[0].name != toolSendOTP {
		t.Fatalf("expected one send call, got %v", inv.calls)
	}
	if inv.calls[0].args["email"] != "john@example.com" {
		t.Errorf("expected lowercased session email injected, got %v", inv.calls[0].args)
	}

	sess := store.Get("s1")
	if sess.State != StateOTPSent {
		t.Errorf("expected otp_sent after successful send, got %s", sess.State)
	}
}

func TestTurn_SendFailureDoesNotAdvanceState(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	p.push(toolCall("email.send_email_otp", `{"email":"john@example.com"}`))
	p.push(&proposer.Proposal{Content: "That address is sending too often."})
	inv.pushResult(map[string]any{"ok": false, "reason": "too_many_requests"})

	if _, err := o.Turn(context.Background(), "s1", "send it to john@example.com"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	sess := store.Get("s1")
	if sess.State == StateOTPSent {
		t.Error("refused send must not advance the state machine")
	}
}

func TestTurn_VerifyWithoutPendingCodeRefused(t *testing.T) {
	o, p, inv, _ := testOrchestrator(t)
	p.push(toolCall("email.verify_email_otp", `{"email":"john@example.com","code":"123456"}`))

	reply, err := o.Turn(context.Background(), "s1", "my code is 123456")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyNoPendingCode {
		t.Errorf("expected no-pending refusal, got %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Errorf("verify must not reach the ledger, got %v", inv.calls)
	}
}

func TestTurn_VerifySuccessResumesDeferredRequest(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	ctx := context.Background()
	booking := "Book me a haircut tomorrow at 3pm"

	// 1. Booking attempt is deferred behind verification.
	p.push(toolCall("calendar.create_calendar_event", `{"summary":"Haircut"}`))
	if _, err := o.Turn(ctx, "s1", booking); err != nil {
		t.Fatalf("booking turn: %v", err)
	}

	// 2. Email arrives, code is sent.
	p.push(toolCall("email.send_email_otp", `{}`))
	p.push(&proposer.Proposal{Content: "Code sent."})
	inv.pushResult(map[string]any{"ok": true})
	if _, err := o.Turn(ctx, "s1", "john@example.com"); err != nil {
		t.Fatalf("send turn: %v", err)
	}

	// 3. Correct code verifies and the original request is resumed.
	p.push(toolCall("email.verify_email_otp", `{"email":"john@example.com","code":"123456"}`))
	p.push(&proposer.Proposal{Content: "Verified! Booking your haircut now."})
	inv.pushResult(map[string]any{"ok": true, "verified": true})
	if _, err := o.Turn(ctx, "s1", "123456"); err != nil {
		t.Fatalf("verify turn: %v", err)
	}

	sess := store.Get("s1")
	if !sess.Verified || sess.State != StateVerified {
		t.Fatalf("expected verified session, got state=%s verified=%v", sess.State, sess.Verified)
	}
	if sess.PendingIntent != "" {
		t.Error("pending intent should be cleared after resume")
	}

	found := false
	for _, msg := range sess.History {
		if msg.Role == "system" && strings.Contains(msg.Content, booking) {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected the deferred booking request re-injected into the history")
	}
}

func TestTurn_WrongCodeStaysUnverified(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	ctx := context.Background()

	p.push(toolCall("email.send_email_otp", `{"email":"john@example.com"}`))
	p.push(&proposer.Proposal{Content: "Code sent."})
	inv.pushResult(map[string]any{"ok": true})
	if _, err := o.Turn(ctx, "s1", "john@example.com"); err != nil {
		t.Fatalf("send turn: %v", err)
	}

	p.push(toolCall("email.verify_email_otp", `{"email":"john@example.com","code":"000000"}`))
	p.push(&proposer.Proposal{Content: "That code is not right."})
	inv.pushResult(map[string]any{"ok": false, "reason": "incorrect_code"})
	if _, err := o.Turn(ctx, "s1", "000000"); err != nil {
		t.Fatalf("verify turn: %v", err)
	}

	sess := store.Get("s1")
	if sess.Verified {
		t.Error("wrong code must not verify the session")
	}
	if sess.State != StateOTPSent {
		t.Errorf("expected otp_sent retained for retry, got %s", sess.State)
	}
}

func TestTurn_AvailabilitySearchCachesSlotAndAsksConfirmation(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	sess := store.Get("s1")
	sess.Verified = true
	sess.State = StateVerified

	p.push(toolCall("calendar.find_free_slot", `{}`))
	inv.pushResult(map[string]any{
		"start": "2026-03-03T15:00:00+01:00",
		"end":   "2026-03-03T16:00:00+01:00",
	})

	reply, err := o.Turn(context.Background(), "s1", "Is there anything free tomorrow at 3pm?")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !strings.Contains(reply, "2026-03-03T15:00:00+01:00") || !strings.Contains(reply, "book it") {
		t.Errorf("expected confirmation prompt with the slot, got %q", reply)
	}

	if len(inv.calls) != 1 || inv.calls[0].name != toolFindFreeSlot {
		t.Fatalf("expected one find_free_slot call, got %v", inv.calls)
	}
	args := inv.calls[0].args
	// Desired anchor is tomorrow 15:00; the window is centered on it.
	if args["window_start_iso"] != "2026-03-03T13:00:00+01:00" {
		t.Errorf("unexpected window start: %v", args["window_start_iso"])
	}
	if args["window_end_iso"] != "2026-03-03T17:00:00+01:00" {
		t.Errorf("unexpected window end: %v", args["window_end_iso"])
	}
	if args["duration_minutes"] != 60 {
		t.Errorf("expected default duration, got %v", args["duration_minutes"])
	}

	if sess.PendingSlot == nil || sess.PendingSlot.StartISO != "2026-03-03T15:00:00+01:00" {
		t.Errorf("expected slot cached for confirmation, got %+v", sess.PendingSlot)
	}
}

func TestTurn_AvailabilityKeywordRedirectsCreate(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	sess := store.Get("s1")
	sess.Verified = true
	sess.State = StateVerified

	// The proposer jumps straight to booking, but the user only asked about
	// availability.
	p.push(toolCall("calendar.create_calendar_event", `{"summary":"Haircut"}`))
	inv.pushResult(map[string]any{"start": nil, "end": nil})

	reply, err := o.Turn(context.Background(), "s1", "are you available tomorrow at 9am?")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0].name != toolFindFreeSlot {
		t.Fatalf("expected find_free_slot instead of create, got %v", inv.calls)
	}
	if !strings.Contains(reply, "couldn't find a free slot") {
		t.Errorf("expected no-slot reply, got %q", reply)
	}
	if sess.PendingSlot != nil {
		t.Errorf("no slot should be cached on a miss, got %+v", sess.PendingSlot)
	}
}

func TestTurn_PendingSlotConsumedExactlyOnce(t *testing.T) {
	o, p, inv, store := testOrchestrator(t)
	ctx := context.Background()
	sess := store.Get("s1")
	sess.Verified = true
	sess.State = StateVerified
	sess.PendingSlot = &PendingSlot{
		StartISO: "2026-03-03T15:00:00+01:00",
		EndISO:   "2026-03-03T16:00:00+01:00",
	}

	p.push(toolCall("calendar.create_calendar_event", `{"title":"Haircut"}`))
	p.push(&proposer.Proposal{Content: "Booked!"})
	inv.pushResult(map[string]any{"id": "evt-1", "htmlLink": "https://example.com/evt-1"})
	if _, err := o.Turn(ctx, "s1", "yes please"); err != nil {
		t.Fatalf("first booking turn: %v", err)
	}

	if len(inv.calls) != 1 {
		t.Fatalf("expected one create call, got %v", inv.calls)
	}
	args := inv.calls[0].args
	if args["start_iso"] != "2026-03-03T15:00:00+01:00" || args["end_iso"] != "2026-03-03T16:00:00+01:00" {
		t.Errorf("expected cached slot used, got %v", args)
	}
	if args["summary"] != "Haircut" {
		t.Errorf("expected title promoted to summary, got %v", args["summary"])
	}
	if sess.PendingSlot != nil {
		t.Fatal("slot must be consumed by the booking")
	}

	// A second affirmation books fresh times, not the consumed slot.
	p.push(toolCall("calendar.create_calendar_event", `{"summary":"Haircut"}`))
	p.push(&proposer.Proposal{Content: "Booked again!"})
	inv.pushResult(map[string]any{"id": "evt-2"})
	if _, err := o.Turn(ctx, "s1", "book it again tomorrow at 5pm"); err != nil {
		t.Fatalf("second booking turn: %v", err)
	}

	second := inv.calls[1].args
	if second["start_iso"] == "2026-03-03T15:00:00+01:00" {
		t.Error("consumed slot must not be reused")
	}
	if second["start_iso"] != "2026-03-03T17:00:00+01:00" {
		t.Errorf("expected normalized utterance time, got %v", second["start_iso"])
	}
}

func TestTurn_UnknownToolRefused(t *testing.T) {
	o, p, inv, _ := testOrchestrator(t)
	p.push(toolCall("weather.lookup", `{}`))

	reply, err := o.Turn(context.Background(), "s1", "what's the weather")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyCannotComplete {
		t.Errorf("expected refusal, got %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Errorf("unknown tool must not be invoked, got %v", inv.calls)
	}
}

func TestTurn_UndecodableArgumentsRefused(t *testing.T) {
	o, p, inv, _ := testOrchestrator(t)
	p.push(toolCall("calendar.create_calendar_event", `{not json`))

	reply, err := o.Turn(context.Background(), "s1", "book something")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != replyCannotComplete {
		t.Errorf("expected refusal, got %q", reply)
	}
	if len(inv.calls) != 0 {
		t.Errorf("nothing should be invoked, got %v", inv.calls)
	}
}

func TestTurn_NewEmailResetsVerification(t *testing.T) {
	o, p, _, store := testOrchestrator(t)
	sess := store.Get("s1")
	sess.Verified = true
	sess.State = StateVerified
	sess.Email = "john@example.com"

	p.push(&proposer.Proposal{Content: "Okay, I'll need to verify that address."})
	if _, err := o.Turn(context.Background(), "s1", "actually use jane@example.com"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	if sess.Verified {
		t.Error("switching address must reset verification")
	}
	if sess.Email != "jane@example.com" {
		t.Errorf("expected new candidate address, got %q", sess.Email)
	}
	if sess.State != StateCollectingEmail {
		t.Errorf("expected collecting_email, got %s", sess.State)
	}
}

func TestExtractEmail(t *testing.T) {
	cases := map[string]string{
		"reach me at John.Doe+x@sub.example.co": "John.Doe+x@sub.example.co",
		"no address here":                       "",
		"a@b.c is too short a TLD? no, c is":    "",
		"double a@b.com and c@d.org":            "a@b.com",
	}
	for text, want := range cases {
		if got := extractEmail(text); got != want {
			t.Errorf("extractEmail(%q) = %q, want %q", text, got, want)
		}
	}
}
