package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/wneessen/go-mail"

	"github.com/fartrucking/far-warehousing/pkg/metrics"
)

// DefaultSubject is used when SMTPConfig.Subject is empty.
const DefaultSubject = "Order Processing Logs"

// DefaultSendTimeout bounds one send, dial included.
const DefaultSendTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	Timeout  time.Duration
}

// Sender delivers composed messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Email sends each message as a plain-text email.
type Email struct {
	cfg    SMTPConfig
	sender Sender
	logger ectologger.Logger
}

func NewEmail(cfg SMTPConfig, logger ectologger.Logger) *Email {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	return &Email{cfg: cfg, logger: logger}
}

// WithSender replaces the SMTP transport.
func (e *Email) WithSender(sender Sender) *Email {
	e.sender = sender
	return e
}

// Notify sends message and returns once it is delivered, fails, or the send
// timeout or ctx expires, whichever comes first.
func (e *Email) Notify(ctx context.Context, message string) {
	log := e.logger.WithContext(ctx).WithField("channel", "email")
	if len(e.cfg.To) == 0 {
		log.Warn("No email recipients configured, dropping notification")
		return
	}

	if err := e.send(ctx, message); err != nil {
		metrics.RecordNotification("email", "error")
		log.WithError(err).Error("Failed to send email notification")
		return
	}
	metrics.RecordNotification("email", "sent")
	log.Infof("Email sent to %s", strings.Join(e.cfg.To, ", "))
}

func (e *Email) send(ctx context.Context, message string) error {
	msg, err := e.compose(message)
	if err != nil {
		return err
	}
	sender, err := e.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sender.DialAndSendWithContext(ctx, msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("email not sent: %w", ctx.Err())
	}
}

func (e *Email) client() (Sender, error) {
	if e.sender != nil {
		return e.sender, nil
	}
	opts := []mail.Option{
		mail.WithPort(e.cfg.Port),
		mail.WithTimeout(e.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}
	client, err := mail.NewClient(e.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}

func (e *Email) compose(message string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.cfg.From, err)
	}
	if err := msg.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(e.cfg.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, message)
	return msg, nil
}

// ParseRecipients splits a comma-separated address list.
func ParseRecipients(list string) []string {
	var out []string
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
