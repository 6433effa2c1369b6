package mailer

import (
	"gopkg.in/gomail.v2"

	"storefront_auth/internal/models"
)

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Send delivers a single auth email. The subject follows the message
// purpose; the body is the bare link, templating lives elsewhere.
func (m *Mailer) Send(msg models.Message) error {
	subject := "Verify your email address"
	if msg.Purpose == models.PurposePasswordReset {
		subject = "Reset your password"
	}

	mail := gomail.NewMessage()
	mail.SetHeader("To", msg.Email)
	mail.SetHeader("From", m.Username)
	mail.SetHeader("Subject", subject)

	mail.SetBody("text/plain", msg.Link)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	return dialer.DialAndSend(mail)
}
