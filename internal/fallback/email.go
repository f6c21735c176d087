package fallback

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromAddr string
	// Encryption is one of "ssl_tls", "starttls" or "none".
	Encryption string
}

// EmailChannel sends escalations as plain-text emails over SMTP.
type EmailChannel struct {
	config SMTPConfig
	send   func(ctx context.Context, m *mail.Msg) error
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(config SMTPConfig) *EmailChannel {
	ch := &EmailChannel{config: config}
	ch.send = ch.dialAndSend
	return ch
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Accepts(contact Contact) bool {
	return contact.Email != ""
}

// Send delivers the escalation to the contact's email address.
func (c *EmailChannel) Send(ctx context.Context, e Escalation) error {
	m, err := c.buildMessage(e)
	if err != nil {
		return err
	}
	return c.send(ctx, m)
}

func (c *EmailChannel) buildMessage(e Escalation) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(c.config.FromAddr); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(e.Contact.Email); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", e.Contact.Email, err)
	}

	subject := e.Title
	if subject == "" {
		subject = "Notification"
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, e.Body)

	return m, nil
}

func (c *EmailChannel) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := mail.NewClient(c.config.Host,
		mail.WithPort(c.config.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(c.config.Username),
		mail.WithPassword(c.config.Password),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(c.config.Encryption)),
	)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
