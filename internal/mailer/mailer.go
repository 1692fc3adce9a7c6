// Package mailer delivers rendered templates to a relay as test sends.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/dkim"
	"github.com/foxzi/mailforge/internal/email"
	"github.com/foxzi/mailforge/internal/headers"
	"github.com/foxzi/mailforge/internal/template"
)

var (
	// ErrNotConfigured is returned when no relay host is set.
	ErrNotConfigured = errors.New("smtp relay is not configured")
	// ErrDelivery wraps failures talking to the relay.
	ErrDelivery = errors.New("smtp delivery failed")
)

// Result describes an accepted test send.
type Result struct {
	MessageID  string   `json:"message_id"`
	Recipients []string `json:"recipients"`
	Size       int      `json:"size"`
}

// Mailer sends rendered templates through the configured relay.
type Mailer struct {
	cfg      config.SMTPConfig
	hostname string
	signer   *dkim.Signer
	headers  *headers.Processor
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a mailer. signer may be nil.
func New(cfg config.SMTPConfig, hostname string, signer *dkim.Signer, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:      cfg,
		hostname: hostname,
		signer:   signer,
		headers:  headers.NewProcessor(cfg.Headers),
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether a relay is configured.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled()
}

// Send renders model and delivers it to the recipients in to.
func (m *Mailer) Send(ctx context.Context, to []string, model template.Model) (*Result, error) {
	if !m.cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	recipients, err := email.ParseRecipients(to)
	if err != nil {
		return nil, err
	}
	from, err := email.ParseAddress(m.cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.from: %w", err)
	}

	composed, err := Compose(from, recipients, model, m.hostname, m.now())
	if err != nil {
		return nil, err
	}
	composed.Header = m.headers.Apply(composed.Header)
	messageID := composed.MessageID

	msg := composed.Bytes()
	if m.signer != nil {
		if msg, err = m.signer.Sign(msg); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := m.deliver(ctx, from.Address, recipients, msg); err != nil {
		m.logger.Warn("test send failed",
			"relay", m.cfg.Addr(),
			"recipients", len(recipients),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrDelivery, err)
	}

	m.logger.Info("test send delivered",
		"message_id", messageID,
		"relay", m.cfg.Addr(),
		"recipients", len(recipients),
		"size", len(msg),
		"dkim", m.signer != nil,
		"duration", time.Since(start),
	)

	return &Result{
		MessageID:  messageID,
		Recipients: recipients,
		Size:       len(msg),
	}, nil
}

func (m *Mailer) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// NewClientStartTLS already greeted the relay
	if m.cfg.TLS != config.SMTPTLSStartTLS {
		if err := c.Hello(m.hostname); err != nil {
			return fmt.Errorf("EHLO: %w", err)
		}
	}

	if m.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("relay does not support AUTH")
		}
		if err := c.Auth(sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA: %w", err)
	}

	return c.Quit()
}

func (m *Mailer) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	addr := m.cfg.Addr()

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.TLS == config.SMTPTLSImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: m.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok && m.cfg.Timeout > 0 {
		deadline, ok = time.Now().Add(m.cfg.Timeout), true
	}
	if ok {
		conn.SetDeadline(deadline)
	}

	// A relay without STARTTLS is an error in this mode, never a plaintext fallback
	if m.cfg.TLS == config.SMTPTLSStartTLS {
		c, err := smtp.NewClientStartTLS(conn, m.tlsConfig())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
		return c, nil
	}
	return smtp.NewClient(conn), nil
}

func (m *Mailer) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
}
