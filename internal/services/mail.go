package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stockroom/apiserver/config"
	"github.com/stockroom/apiserver/internal/logx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Mailer sends a plain text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer sends mail through an SMTP relay, upgrading to TLS when the
// relay offers STARTTLS.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer validates the relay settings and the sender address.
func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", cfg.From, err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := m.message(to, subject, body)
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (m *SMTPMailer) message(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// LogMailer logs messages instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logx.FromContext(ctx).Info("mail",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}

// ResetMailer turns reset jobs into emails.
type ResetMailer struct {
	mailer Mailer
}

func NewResetMailer(mailer Mailer) *ResetMailer {
	return &ResetMailer{mailer: mailer}
}

// Handle decodes a ResetJob and mails the link to its recipient. Malformed
// jobs are logged and dropped; only send failures are returned for a retry.
func (r *ResetMailer) Handle(ctx context.Context, data []byte) error {
	log := logx.FromContext(ctx)

	var job ResetJob
	if err := json.Unmarshal(data, &job); err != nil {
		log.Warn("dropping undecodable reset job", zap.Error(err))
		return nil
	}
	if job.Email == "" || job.Link == "" {
		log.Warn("dropping incomplete reset job", zap.Int("user_id", job.UserID))
		return nil
	}

	body := fmt.Sprintf(
		"Hello %s,\n\nsomeone asked to reset the password of your account.\n"+
			"Open the link below to choose a new one. It stays valid until %s.\n\n%s\n\n"+
			"If you did not ask for this, you can ignore this email.\n",
		job.Username,
		job.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
		job.Link,
	)
	return r.mailer.Send(ctx, job.Email, "Reset your password", body)
}
