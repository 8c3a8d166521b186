package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/oauthdirac/internal/metrics"
	"github.com/rs/zerolog/log"
)

// SMTPConfig configures mail delivery.
type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails notifications to the administrators.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send SendFunc
	now  func() time.Time
}

// NewSMTPNotifier creates a mail notifier. A nil send uses smtp.SendMail.
func NewSMTPNotifier(cfg SMTPConfig, send SendFunc) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("smtp notifier needs host, from and at least one recipient")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if send == nil {
		send = smtp.SendMail
	}
	return &SMTPNotifier{cfg: cfg, send: send, now: time.Now}, nil
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	msg, err := s.message(n)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, s.cfg.To, msg); err != nil {
		log.Error().Err(err).Str("session", n.SessionID).Msg("Failed to mail administrators")
		return fmt.Errorf("failed to send notification: %w", err)
	}
	metrics.NotificationsSentTotal.Inc()
	log.Info().Str("session", n.SessionID).Str("kind", string(n.Kind)).Msg("Administrators notified")
	return nil
}

func (s *SMTPNotifier) message(n Notification) ([]byte, error) {
	body, err := n.Body()
	if err != nil {
		return nil, err
	}
	domainPart := s.cfg.Host
	if _, d, ok := strings.Cut(s.cfg.From, "@"); ok {
		domainPart = d
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject())
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainPart)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String()), nil
}
