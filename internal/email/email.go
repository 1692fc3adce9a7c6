// Package email parses and normalizes addresses used for test sends.
package email

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAddress is returned for addresses that do not parse as RFC 5322.
	ErrInvalidAddress = errors.New("invalid email address")
	// ErrNoRecipients is returned when a recipient list is empty.
	ErrNoRecipients = errors.New("no recipients")
	// ErrTooManyRecipients is returned when a list exceeds MaxRecipients.
	ErrTooManyRecipients = errors.New("too many recipients")
)

// MaxRecipients caps the number of addresses a single test send may target.
const MaxRecipients = 10

// ParseAddress parses a single address, with or without display name.
func ParseAddress(s string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if Domain(addr.Address) == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

// ParseRecipients flattens comma separated entries into bare addresses.
// Duplicates are dropped case-insensitively, first occurrence wins.
func ParseRecipients(entries []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)

	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		list, err := mail.ParseAddressList(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, entry)
		}
		for _, addr := range list {
			if Domain(addr.Address) == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr.Address)
			}
			key := strings.ToLower(addr.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr.Address)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	if len(out) > MaxRecipients {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyRecipients, len(out), MaxRecipients)
	}
	return out, nil
}

// Domain returns the lower-cased domain part of a bare address, or "".
func Domain(address string) string {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// DomainOrDefault extracts the domain from a possibly decorated address.
func DomainOrDefault(s, defaultDomain string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		s = addr.Address
	}
	if d := Domain(s); d != "" {
		return d
	}
	return defaultDomain
}

// MessageID returns a new angle-bracketed Message-ID under domain.
func MessageID(domain string) string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
