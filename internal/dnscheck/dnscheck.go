// Package dnscheck verifies that the sender domain used for test sends
// publishes SPF, DKIM and DMARC records.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Domain validation errors
var (
	ErrInvalidDomain   = errors.New("invalid domain name")
	ErrInvalidSelector = errors.New("invalid selector")
)

// Check statuses
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if !selectorRegex.MatchString(selector) {
		return ErrInvalidSelector
	}
	return nil
}

// TXTResolver looks up TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  string `json:"status"` // ok, warning, error, not_found
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// DomainCheckResult contains all DNS check results for a domain
type DomainCheckResult struct {
	Domain  string        `json:"domain"`
	Results []CheckResult `json:"results"`
	Summary Summary       `json:"summary"`
}

// Summary contains check statistics
type Summary struct {
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	NotFound int `json:"not_found"`
}

// Ready reports whether nothing failed or is missing.
func (s Summary) Ready() bool {
	return s.Errors == 0 && s.NotFound == 0
}

// CheckOptions configures CheckDomain
type CheckOptions struct {
	Selector string // DKIM selector, required
	// PublicKey is the expected "v=DKIM1; ..." value. When set the published
	// p= tag must match it.
	PublicKey string
}

// Checker runs DNS checks through a resolver
type Checker struct {
	resolver TXTResolver
}

// NewChecker creates a checker. A nil resolver uses net.DefaultResolver.
func NewChecker(resolver TXTResolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// CheckDomain performs SPF, DKIM and DMARC checks for domain
func (c *Checker) CheckDomain(ctx context.Context, domain string, opts CheckOptions) (*DomainCheckResult, error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if err := ValidateSelector(opts.Selector); err != nil {
		return nil, err
	}

	result := &DomainCheckResult{
		Domain: domain,
		Results: []CheckResult{
			c.CheckSPF(ctx, domain),
			c.CheckDKIM(ctx, domain, opts.Selector, opts.PublicKey),
			c.CheckDMARC(ctx, domain),
		},
	}

	for _, r := range result.Results {
		switch r.Status {
		case StatusOK:
			result.Summary.OK++
		case StatusWarning:
			result.Summary.Warnings++
		case StatusError:
			result.Summary.Errors++
		case StatusNotFound:
			result.Summary.NotFound++
		}
	}

	return result, nil
}

// lookup returns the TXT records of name, or a finished result when the
// lookup failed or found nothing.
func (c *Checker) lookup(ctx context.Context, name string, result CheckResult, missing string) ([]string, *CheckResult) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = missing
			return nil, &result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return nil, &result
	}
	if len(records) == 0 {
		result.Status = StatusNotFound
		result.Message = missing
		return nil, &result
	}
	return records, nil
}

// CheckSPF checks SPF record for a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF Record"}

	records, done := c.lookup(ctx, domain, result, "No SPF record found (recommended to add)")
	if done != nil {
		return *done
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt

		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all (allows any sender) - consider using ~all or -all"
		case strings.Contains(txt, "-all"):
			result.Message = "SPF configured with strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "SPF configured with soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = "No SPF record found (recommended to add)"
	return result
}

// CheckDKIM checks the DKIM record of selector. A non-empty publicKey must
// match the published key.
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, publicKey string) CheckResult {
	result := CheckResult{Type: fmt.Sprintf("DKIM Record (%s._domainkey)", selector)}

	name := fmt.Sprintf("%s._domainkey.%s", selector, domain)
	records, done := c.lookup(ctx, name, result, fmt.Sprintf("No DKIM record found for selector '%s'", selector))
	if done != nil {
		return *done
	}

	// Long keys are split over several strings
	fullRecord := strings.Join(records, "")
	tags := parseTags(fullRecord)
	result.Value = truncateString(fullRecord, 100)

	if tags["v"] != "DKIM1" {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DKIM record"
		return result
	}
	if tags["p"] == "" {
		result.Status = StatusError
		result.Message = "DKIM record has no public key (p=), the key is revoked"
		return result
	}
	if publicKey != "" && parseTags(publicKey)["p"] != tags["p"] {
		result.Status = StatusError
		result.Message = "Published DKIM key does not match the configured private key"
		return result
	}

	result.Status = StatusOK
	switch tags["k"] {
	case "ed25519":
		result.Message = "DKIM configured with Ed25519 key"
	default:
		result.Message = "DKIM configured with RSA key"
	}
	return result
}

// CheckDMARC checks DMARC record for a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC Record"}

	records, done := c.lookup(ctx, "_dmarc."+domain, result, "No DMARC record found (recommended to add)")
	if done != nil {
		return *done
	}

	fullRecord := strings.Join(records, "")
	result.Value = fullRecord

	if !strings.HasPrefix(fullRecord, "v=DMARC1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
		return result
	}

	result.Status = StatusOK
	switch parseTags(fullRecord)["p"] {
	case "reject":
		result.Message = "DMARC configured with reject policy (strict)"
	case "quarantine":
		result.Message = "DMARC configured with quarantine policy"
	case "none":
		result.Status = StatusWarning
		result.Message = "DMARC configured with none policy (monitoring only)"
	}
	return result
}

// parseTags splits a "k=v; k=v" record. Whitespace inside values is dropped.
func parseTags(record string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.TrimSpace(k)] = strings.Join(strings.Fields(v), "")
	}
	return tags
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
