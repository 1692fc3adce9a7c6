// Package dkim signs outgoing test messages.
package dkim

import (
	"bytes"
	"crypto"
	"fmt"
	"strings"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/foxzi/mailforge/internal/config"
)

// signedHeaders are the headers covered by the signature when present.
var signedHeaders = []string{
	"From", "To", "Subject", "Date", "Message-ID",
	"MIME-Version", "Content-Type",
}

// Signer adds DKIM-Signature headers.
type Signer struct {
	key      crypto.Signer
	domain   string
	selector string
}

// NewSigner creates a signer for domain and selector.
func NewSigner(key crypto.Signer, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   domain,
		selector: selector,
	}
}

// NewSignerFromConfig loads the key named by cfg. It returns nil, nil when
// signing is disabled.
func NewSignerFromConfig(cfg config.DKIMConfig) (*Signer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	key, err := LoadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, cfg.Domain, cfg.Selector), nil
}

// Sign returns message with a DKIM-Signature header prepended.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderKeys:             presentHeaders(message),
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

// Domain returns the signing domain.
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the selector.
func (s *Signer) Selector() string {
	return s.selector
}

// presentHeaders filters signedHeaders down to those found in the header
// block. From is always included because DKIM requires it.
func presentHeaders(message []byte) []string {
	header := message
	if i := bytes.Index(message, []byte("\r\n\r\n")); i >= 0 {
		header = message[:i]
	} else if i := bytes.Index(message, []byte("\n\n")); i >= 0 {
		header = message[:i]
	}
	lower := "\n" + strings.ToLower(string(header))

	keys := []string{"From"}
	for _, h := range signedHeaders[1:] {
		if strings.Contains(lower, "\n"+strings.ToLower(h)+":") {
			keys = append(keys, h)
		}
	}
	return keys
}
