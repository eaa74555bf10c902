package agent

import "strings"

const (
	toolSendOTP      = "email.send_email_otp"
	toolVerifyOTP    = "email.verify_email_otp"
	toolFindFreeSlot = "calendar.find_free_slot"
	toolCreateEvent  = "calendar.create_calendar_event"
)

const (
	replyNoPendingCode = "I need to send you a verification code first. What is your email address?"
	replyAskEmail      = "What email address should I send the verification code to?"
	replyAskVerify     = "Please verify your email first. What is your email address?"
)

// requestedCall is one proposed tool invocation being threaded through the
// guard pipeline; stages may rewrite its arguments in place.
type requestedCall struct {
	id   string
	name string
	args map[string]any
}

func (c *requestedCall) isCalendar() bool {
	return strings.HasPrefix(c.name, "calendar.")
}

// guardStage checks one precondition. A non-empty return is a local refusal:
// the turn ends with that clarifying reply and nothing reaches the network.
type guardStage func(sess *Session, c *requestedCall, utterance string) (refusal string)

// guardStages is the ordered pipeline applied to every proposed call.
func (o *Orchestrator) guardStages() []guardStage {
	return []guardStage{
		o.guardVerifyState,
		o.guardSendEmail,
		o.guardCalendarVerified,
	}
}

// guardVerifyState refuses a verify attempt when no code is pending; hitting
// the ledger in that state would only burn an attempt on a stale record.
func (o *Orchestrator) guardVerifyState(sess *Session, c *requestedCall, _ string) string {
	if c.name == toolVerifyOTP && sess.State != StateOTPSent {
		return replyNoPendingCode
	}
	return ""
}

// guardSendEmail fills a missing email argument from the session's candidate
// address, or asks for one.
func (o *Orchestrator) guardSendEmail(sess *Session, c *requestedCall, _ string) string {
	if c.name != toolSendOTP {
		return ""
	}
	if email, _ := c.args["email"].(string); email != "" {
		return ""
	}
	if sess.Email == "" {
		return replyAskEmail
	}
	c.args["email"] = sess.Email
	return ""
}

// guardCalendarVerified blocks every calendar.* call until the session is
// verified, remembering the utterance so the request can resume afterward.
func (o *Orchestrator) guardCalendarVerified(sess *Session, c *requestedCall, utterance string) string {
	if c.isCalendar() && !sess.Verified {
		sess.PendingIntent = utterance
		return replyAskVerify
	}
	return ""
}

var availabilityKeywords = []string{"free", "availability", "available", "find slot", "check slot"}

// wantsAvailability reports whether the utterance reads like an availability
// question rather than a direct booking.
func wantsAvailability(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range availabilityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
