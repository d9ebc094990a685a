// Package notify delivers pipeline email. Senders move a Message over a
// transport; Notifier composes the messages operators receive.
package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("no recipients")

// Message is one email.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	RatePerMinute int
	Timeout       time.Duration
}

// SMTPSender sends mail through an SMTP relay, throttled so a burst of
// failing runs cannot flood the relay.
type SMTPSender struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &SMTPSender{cfg: cfg, limiter: rate.NewLimiter(limit, 1), logger: logger}, nil
}

func (s *SMTPSender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	m, err := buildMsg(msg)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}
	c, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	s.logger.Info("sent email", zap.String("subject", msg.Subject), zap.Strings("to", msg.To))
	return nil
}

func buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("from address %q: %w", msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to addresses: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	for _, path := range msg.Attachments {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}
		m.AttachFile(path)
	}
	return m, nil
}

// LogSender records messages in the log instead of sending them. It is
// used when no SMTP host is configured, and by tests.
type LogSender struct {
	Logger *zap.Logger

	// Fail, when set, is returned from every Send.
	Fail error

	mu   sync.Mutex
	sent []Message
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	if s.Fail != nil {
		return s.Fail
	}
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if s.Logger != nil {
		s.Logger.Info("email (not sent)",
			zap.String("subject", msg.Subject),
			zap.Strings("to", msg.To),
			zap.Strings("attachments", msg.Attachments),
		)
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
