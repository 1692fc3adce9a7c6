// Package mailertest provides an in-process SMTP server that records the
// messages it accepts.
package mailertest

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/mailforge/internal/config"
)

// Message is one accepted transaction.
type Message struct {
	From     string
	To       []string
	Data     []byte
	AuthUser string
}

// Sink is a recording SMTP server.
type Sink struct {
	Username string
	Password string

	mu       sync.Mutex
	messages []Message
	rejected map[string]bool
	addr     *net.TCPAddr
}

// Start listens on a random loopback port and stops the server on cleanup.
// When username is non-empty, AUTH PLAIN is advertised and required.
func Start(t testing.TB, username, password string) *Sink {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	sink := &Sink{
		Username: username,
		Password: password,
		addr:     l.Addr().(*net.TCPAddr),
	}

	srv := smtp.NewServer(sink)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	return sink
}

// Config returns relay settings pointing at the sink.
func (s *Sink) Config(from string) config.SMTPConfig {
	return config.SMTPConfig{
		Host:     "127.0.0.1",
		Port:     s.addr.Port,
		Username: s.Username,
		Password: s.Password,
		From:     from,
		TLS:      config.SMTPTLSNone,
		Timeout:  5 * time.Second,
	}
}

// Messages returns a copy of the accepted messages.
func (s *Sink) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reject makes RCPT TO fail with 550 for addr.
func (s *Sink) Reject(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected == nil {
		s.rejected = make(map[string]bool)
	}
	s.rejected[addr] = true
}

func (s *Sink) isRejected(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected[addr]
}

// NewSession implements smtp.Backend.
func (s *Sink) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{sink: s}, nil
}

func (s *Sink) record(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

type session struct {
	sink *Sink
	from string
	to   []string
	user string
}

func (s *session) AuthMechanisms() []string {
	if s.sink.Username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.sink.Username || password != s.sink.Password {
			return smtp.ErrAuthFailed
		}
		s.user = username
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if s.sink.Username != "" && s.user == "" {
		return &smtp.SMTPError{Code: 530, Message: "Authentication required"}
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.sink.isRejected(to) {
		return &smtp.SMTPError{Code: 550, Message: "No such user"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.sink.record(Message{
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
		AuthUser: s.user,
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
