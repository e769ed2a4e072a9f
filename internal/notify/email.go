package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"sitewatch/internal/monitor"
	"sitewatch/internal/store"
)

// ErrNotConfigured signals that the channel has no usable settings.
var ErrNotConfigured = errors.New("notification channel not configured")

// transport is the negotiated SMTP connection security mode.
type transport int

const (
	transportPlain transport = iota
	transportSSL
	transportSTARTTLS
)

func (t transport) String() string {
	switch t {
	case transportSSL:
		return "ssl"
	case transportSTARTTLS:
		return "starttls"
	default:
		return "plain"
	}
}

// chooseTransport picks the connection mode from the stored settings. Port
// 465 with encryption means implicit SSL unless forceSTARTTLS overrides it;
// any other encrypted port negotiates STARTTLS.
func chooseTransport(port int, encrypt, forceSTARTTLS bool) transport {
	if !encrypt {
		return transportPlain
	}
	if port == 465 && !forceSTARTTLS {
		return transportSSL
	}
	return transportSTARTTLS
}

// splitRecipients accepts comma, semicolon or whitespace separated address
// lists as stored in the task target field.
func splitRecipients(target string) []string {
	fields := strings.FieldsFunc(target, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// EmailSender delivers digests over SMTP. Settings are read from the store
// on every send so admin changes apply without a restart.
type EmailSender struct {
	settings store.SettingsStore
	timeout  time.Duration
	logger   *zap.Logger
	// deliver performs one connection attempt. Replaceable in tests.
	deliver func(ctx context.Context, settings monitor.EmailSettings, mode transport, msg *mail.Msg) error
}

// NewEmailSender constructs the SMTP delivery channel.
func NewEmailSender(settings store.SettingsStore, logger *zap.Logger) *EmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EmailSender{settings: settings, timeout: 30 * time.Second, logger: logger}
	s.deliver = s.smtpDeliver
	return s
}

// Send delivers the digest to every address in target. A dropped connection
// during a STARTTLS attempt triggers one retry over implicit SSL, since some
// servers advertise 587 but only speak SSL.
func (s *EmailSender) Send(ctx context.Context, target string, d Digest) error {
	settings, err := s.settings.EmailSettings(ctx)
	if err != nil {
		return fmt.Errorf("load email settings: %w", err)
	}
	if settings.Host == "" || settings.Sender == "" {
		return ErrNotConfigured
	}
	recipients := splitRecipients(target)
	if len(recipients) == 0 {
		return ErrNotConfigured
	}

	msg, err := s.buildMessage(settings.Sender, recipients, d)
	if err != nil {
		return err
	}

	mode := chooseTransport(settings.Port, settings.Encrypt, settings.ForceSTARTTLS)
	err = s.deliver(ctx, settings, mode, msg)
	if err != nil && mode == transportSTARTTLS && isConnDropped(err) {
		s.logger.Warn("starttls delivery dropped, retrying over ssl",
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
			zap.Error(err),
		)
		err = s.deliver(ctx, settings, transportSSL, msg)
	}
	if err != nil {
		return fmt.Errorf("smtp delivery via %s:%d: %w", settings.Host, settings.Port, err)
	}
	return nil
}

func (s *EmailSender) buildMessage(sender string, recipients []string, d Digest) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(sender); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", sender, err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(Subject(d))

	text, err := RenderEmailText(d)
	if err != nil {
		return nil, err
	}
	html, err := RenderEmailHTML(d)
	if err != nil {
		return nil, err
	}
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

func (s *EmailSender) smtpDeliver(ctx context.Context, settings monitor.EmailSettings, mode transport, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(settings.Port),
		mail.WithTimeout(s.timeout),
	}
	if settings.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.Username),
			mail.WithPassword(settings.Password),
		)
	}
	switch mode {
	case transportSSL:
		opts = append(opts, mail.WithSSL())
	case transportSTARTTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(settings.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func isConnDropped(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF")
}
