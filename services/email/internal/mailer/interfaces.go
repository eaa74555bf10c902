package mailer

import "time"

// Service dispatches a one-time passcode to its recipient. The code never
// appears in any return value; it only travels inside the email body.
type Service interface {
	SendOTPEmail(toEmail, code string, ttl time.Duration, locale string) error
}
