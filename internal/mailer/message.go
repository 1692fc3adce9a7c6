package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/foxzi/mailforge/internal/email"
	"github.com/foxzi/mailforge/internal/headers"
	"github.com/foxzi/mailforge/internal/template"
)

// Message is a composed test message.
type Message struct {
	Header    headers.Block
	Body      []byte
	MessageID string
}

// Bytes returns the message in wire form.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	m.Header.WriteTo(&buf)
	buf.Write(m.Body)
	return buf.Bytes()
}

// Compose builds a multipart/alternative message for model. The HTML part is
// Render(model) and the text part is PlainText(model). Subject is the title.
func Compose(from *mail.Address, to []string, model template.Model, hostname string, date time.Time) (*Message, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain; charset=utf-8", template.PlainText(model)); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=utf-8", template.Render(model)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	messageID := email.MessageID(email.DomainOrDefault(from.Address, hostname))

	return &Message{
		Header: headers.Block{
			{Name: "From", Value: from.String()},
			{Name: "To", Value: strings.Join(to, ", ")},
			{Name: "Subject", Value: mime.QEncoding.Encode("utf-8", model.Title())},
			{Name: "Date", Value: date.Format(time.RFC1123Z)},
			{Name: "Message-ID", Value: messageID},
			{Name: "MIME-Version", Value: "1.0"},
			{Name: "Content-Type", Value: mime.FormatMediaType("multipart/alternative", map[string]string{
				"boundary": mw.Boundary(),
			})},
			{Name: "X-Mailer", Value: "mailforge"},
		},
		Body:      body.Bytes(),
		MessageID: messageID,
	}, nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	pw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}

	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to encode %s part: %w", contentType, err)
	}
	return qp.Close()
}
