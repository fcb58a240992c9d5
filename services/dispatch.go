package services

import (
	"os"

	"pickup-notify/models"

	"gopkg.in/gomail.v2"
)

// Credentials is one SMTP account. Two sets exist; the order's variant picks
// which one a notification goes out through.
type Credentials struct {
	Username string
	Password string
}

// CredentialSet holds both configured accounts.
type CredentialSet struct {
	Default Credentials // meal-style variants
	Invoice Credentials
}

// For returns the credentials for an order variant.
func (c CredentialSet) For(variant string) Credentials {
	if variant == models.VariantInvoice {
		return c.Invoice
	}
	return c.Default
}

// Transport sends a rendered notification. Implementations report failure
// through the returned error; nothing retries automatically.
type Transport interface {
	Send(msg *Message, creds Credentials) error
}

// SMTPTransport delivers notifications over SMTP.
type SMTPTransport struct {
	Host string
	Port int
}

func (t *SMTPTransport) Send(msg *Message, creds Credentials) error {
	m := gomail.NewMessage()
	m.SetHeader("From", creds.Username)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if msg.InlineImage != "" {
		// A missing image must not block the reminder itself.
		if _, err := os.Stat(msg.InlineImage); err == nil {
			m.Embed(msg.InlineImage)
		}
	}

	d := gomail.NewDialer(t.Host, t.Port, creds.Username, creds.Password)
	if err := d.DialAndSend(m); err != nil {
		return &DispatchError{Recipient: msg.To, Err: err}
	}
	return nil
}
