package ledger

import (
	"context"
	"testing"
	"time"
)

// mockMailer captures the last code handed to it instead of sending mail.
type mockMailer struct {
	lastEmail string
	lastCode  string
	sends     int
}

func (m *mockMailer) SendOTPEmail(toEmail, code string, ttl time.Duration, locale string) error {
	m.lastEmail = toEmail
	m.lastCode = code
	m.sends++
	return nil
}

func testLedger(t *testing.T) (*Ledger, *mockMailer, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	m := &mockMailer{}
	l := New(NewMemoryStore(), m, Config{
		TTL:             600 * time.Second,
		MaxSendsPerHour: 5,
		MaxAttempts:     5,
	}).WithClock(func() time.Time { return now })
	l.store.(*MemoryStore).WithClock(func() time.Time { return now })
	return l, m, &now
}

func TestIssueAndVerify_HappyPath(t *testing.T) {
	l, m, _ := testLedger(t)
	ctx := context.Background()

	out, err := l.Issue(ctx, "User@Example.com", "en")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !out.OK || out.TTLSeconds != 600 {
		t.Fatalf("expected ok issue with 600s TTL, got %+v", out)
	}
	if m.lastEmail != "user@example.com" {
		t.Errorf("expected lowercased recipient, got %q", m.lastEmail)
	}
	if len(m.lastCode) != 6 {
		t.Fatalf("expected 6-digit code, got %q", m.lastCode)
	}

	out, err = l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !out.OK || !out.Verified {
		t.Fatalf("expected verified outcome, got %+v", out)
	}

	// The record is consumed on success.
	out, err = l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if out.OK || out.Reason != ReasonNoPending {
		t.Errorf("expected no_pending after successful verify, got %+v", out)
	}
}

func TestIssue_RateLimited(t *testing.T) {
	l, _, _ := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		out, err := l.Issue(ctx, "user@example.com", "en")
		if err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
		if !out.OK {
			t.Fatalf("issue %d refused: %+v", i+1, out)
		}
	}

	out, err := l.Issue(ctx, "user@example.com", "en")
	if err != nil {
		t.Fatalf("sixth issue: %v", err)
	}
	if out.OK || out.Reason != ReasonTooManyRequests {
		t.Errorf("expected too_many_requests on sixth send, got %+v", out)
	}

	// The cap is per address.
	out, err = l.Issue(ctx, "other@example.com", "en")
	if err != nil {
		t.Fatalf("other address issue: %v", err)
	}
	if !out.OK {
		t.Errorf("expected other address unaffected, got %+v", out)
	}
}

func TestIssue_BucketResetsAfterWindow(t *testing.T) {
	l, _, now := testLedger(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
			t.Fatalf("issue %d: %v", i+1, err)
		}
	}

	*now = now.Add(time.Hour + time.Minute)

	out, err := l.Issue(ctx, "user@example.com", "en")
	if err != nil {
		t.Fatalf("issue after window: %v", err)
	}
	if !out.OK {
		t.Errorf("expected send allowed after window lapses, got %+v", out)
	}
}

func TestVerify_NoPending(t *testing.T) {
	l, _, _ := testLedger(t)

	out, err := l.Verify(context.Background(), "user@example.com", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.OK || out.Reason != ReasonNoPending {
		t.Errorf("expected no_pending, got %+v", out)
	}
}

func TestVerify_Expired(t *testing.T) {
	l, m, now := testLedger(t)
	ctx := context.Background()

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	*now = now.Add(601 * time.Second)

	out, err := l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.OK || out.Reason != ReasonExpired {
		t.Errorf("expected expired, got %+v", out)
	}

	// Expiry deletes the record, so the next attempt sees nothing pending.
	out, err = l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if out.Reason != ReasonNoPending {
		t.Errorf("expected no_pending after expiry cleanup, got %+v", out)
	}
}

func TestVerify_AttemptCap(t *testing.T) {
	l, m, _ := testLedger(t)
	ctx := context.Background()

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 5; i++ {
		out, err := l.Verify(ctx, "user@example.com", "000000")
		if err != nil {
			t.Fatalf("verify %d: %v", i+1, err)
		}
		if out.Reason != ReasonIncorrectCode {
			t.Fatalf("attempt %d: expected incorrect_code, got %+v", i+1, out)
		}
	}

	// The sixth attempt trips the cap even with the right code.
	out, err := l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("sixth verify: %v", err)
	}
	if out.OK || out.Reason != ReasonTooManyAttempts {
		t.Errorf("expected too_many_attempts, got %+v", out)
	}
}

func TestIssue_ReissueSupersedes(t *testing.T) {
	l, m, _ := testLedger(t)
	ctx := context.Background()

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	firstCode := m.lastCode

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	secondCode := m.lastCode

	if firstCode == secondCode {
		t.Skip("codes collided, cannot distinguish records")
	}

	out, err := l.Verify(ctx, "user@example.com", firstCode)
	if err != nil {
		t.Fatalf("verify old code: %v", err)
	}
	if out.OK || out.Reason != ReasonIncorrectCode {
		t.Errorf("expected old code rejected, got %+v", out)
	}

	out, err = l.Verify(ctx, "user@example.com", secondCode)
	if err != nil {
		t.Fatalf("verify new code: %v", err)
	}
	if !out.Verified {
		t.Errorf("expected latest code to verify, got %+v", out)
	}
}

func TestIssue_ReissueResetsAttempts(t *testing.T) {
	l, m, _ := testLedger(t)
	ctx := context.Background()

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := l.Verify(ctx, "user@example.com", "000000"); err != nil {
			t.Fatalf("verify %d: %v", i+1, err)
		}
	}

	if _, err := l.Issue(ctx, "user@example.com", "en"); err != nil {
		t.Fatalf("re-issue: %v", err)
	}

	out, err := l.Verify(ctx, "user@example.com", m.lastCode)
	if err != nil {
		t.Fatalf("verify after re-issue: %v", err)
	}
	if !out.Verified {
		t.Errorf("expected fresh record after re-issue, got %+v", out)
	}
}
