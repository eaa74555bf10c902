package mailer

import (
	"fmt"
	"time"

	"github.com/slotline/bookings-agent/pkg/logger"
)

// DevMailer prints codes to the log instead of sending mail.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendOTPEmail(toEmail, code string, ttl time.Duration, locale string) error {
	logger.Info("[DEV MAIL] OTP email",
		"to", toEmail,
		"code", code,
		"ttl", ttl.String(),
		"locale", locale,
	)

	text, _ := otpBodies(code, ttl)
	fmt.Printf("\n"+
		"=================================================================\n"+
		"OTP EMAIL (DEV MODE)\n"+
		"=================================================================\n"+
		"To: %s\n"+
		"Subject: %s\n"+
		"\n"+
		"%s\n"+
		"=================================================================\n\n",
		toEmail, otpSubject, text)

	return nil
}
