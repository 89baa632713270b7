package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/nerrad567/vigil-core/internal/infrastructure/config"
)

// Mailer sends alarm alert emails over SMTP.
type Mailer struct {
	cfg    config.MailConfig
	logger Logger
}

// NewMailer creates a mailer. A disabled config yields a mailer whose
// sends are silent no-ops.
func NewMailer(cfg config.MailConfig) *Mailer {
	return &Mailer{cfg: cfg, logger: noopLogger{}}
}

// SetLogger attaches a logger. Passing nil restores the no-op logger.
func (m *Mailer) SetLogger(l Logger) {
	if l == nil {
		m.logger = noopLogger{}
		return
	}
	m.logger = l
}

// SendAlarm emails every configured recipient about a triggered alarm.
func (m *Mailer) SendAlarm(ctx context.Context, deviceName string, at time.Time) error {
	if !m.cfg.Enabled {
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("setting mail sender: %w", err)
	}
	if err := msg.To(m.cfg.To...); err != nil {
		return fmt.Errorf("setting mail recipients: %w", err)
	}
	msg.Subject(fmt.Sprintf("ALARM: %s", deviceName))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"The alarm on %s was triggered at %s.\n\nThis is an automated alert from vigil.\n",
		deviceName, at.UTC().Format(time.RFC3339)))

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending alarm mail: %w", err)
	}

	m.logger.Info("alarm alert mailed",
		"device", deviceName, "recipients", len(m.cfg.To))
	return nil
}
