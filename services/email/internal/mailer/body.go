package mailer

import (
	"fmt"
	"time"
)

const otpSubject = "Your verification code"

func otpBodies(code string, ttl time.Duration) (text, html string) {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	text = fmt.Sprintf("Your verification code is: %s\nThis code expires in %d minutes.", code, minutes)
	html = fmt.Sprintf("<p>Your verification code is: <b>%s</b></p><p>It expires in %d minutes.</p>", code, minutes)
	return text, html
}
