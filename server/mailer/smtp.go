package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

// SMTPMailer sends alert mails through an SMTP relay. The underlying client
// pools its connection internally; SendAlert is safe for concurrent use.
type SMTPMailer struct {
	client *mail.Client
	from   string
	// ackBaseURL is the externally reachable address of this replica's admin
	// API, e.g. "http://alerting.example.com:8080".
	ackBaseURL string
}

// NewSMTPMailer configures the SMTP client. It does not dial; connectivity
// problems surface on the first send.
func NewSMTPMailer(server string, port int, username, password, ackBaseURL string) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(server, opts...)
	if err != nil {
		return nil, fmt.Errorf("configure smtp client: %w", err)
	}
	return &SMTPMailer{
		client:     client,
		from:       username,
		ackBaseURL: ackBaseURL,
	}, nil
}

func (m *SMTPMailer) SendAlert(ctx context.Context, recipient string, job *store.Job, notificationID int64, primary bool) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set sender %q: %w", m.from, err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("set recipient %q: %w", recipient, err)
	}
	msg.Subject(alertSubject(job, primary))
	msg.SetBodyString(mail.TypeTextPlain, alertBody(job, AckURL(m.ackBaseURL, notificationID, primary), primary))

	return m.client.DialAndSendWithContext(ctx, msg)
}
