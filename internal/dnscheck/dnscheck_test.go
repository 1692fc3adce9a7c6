package dnscheck

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if name == "broken.example.com" {
		return nil, &net.DNSError{Err: "server misbehaving", Name: name}
	}
	records, ok := f[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

const testKey = "v=DKIM1; k=ed25519; p=11qYAYKxCrfVS/7TyWQHOg7hcvPapiMlrwIaaPcHURo="

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid simple", "example.com", false},
		{"valid subdomain", "sub.example.com", false},
		{"valid with dash", "my-domain.com", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 254), true},
		{"invalid chars", "example!.com", true},
		{"starts with dash", "-example.com", true},
		{"double dot", "example..com", true},
		{"path injection", "../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDomain(%q) error = %v, wantErr %v", tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSelector(t *testing.T) {
	for _, s := range []string{"mailforge", "key2024", "dkim-key"} {
		if err := ValidateSelector(s); err != nil {
			t.Errorf("ValidateSelector(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "selector!", "-selector", strings.Repeat("a", 64)} {
		if err := ValidateSelector(s); !errors.Is(err, ErrInvalidSelector) {
			t.Errorf("ValidateSelector(%q) error = %v, want ErrInvalidSelector", s, err)
		}
	}
}

func TestCheckDomain(t *testing.T) {
	c := NewChecker(fakeResolver{
		"example.com":                      {"google-site-verification=abc", "v=spf1 include:_spf.example.net -all"},
		"mailforge._domainkey.example.com": {"v=DKIM1; k=ed25519; ", "p=11qYAYKxCrfVS/7TyWQHOg7hcvPapiMlrwIaaPcHURo="},
		"_dmarc.example.com":               {"v=DMARC1; p=quarantine; rua=mailto:dmarc@example.com"},
	})

	res, err := c.CheckDomain(context.Background(), "Example.COM.", CheckOptions{Selector: "mailforge", PublicKey: testKey})
	if err != nil {
		t.Fatalf("CheckDomain() error = %v", err)
	}
	if res.Domain != "example.com" {
		t.Errorf("Domain = %q", res.Domain)
	}
	if res.Summary.OK != 3 || !res.Summary.Ready() {
		t.Errorf("Summary = %+v, results %+v", res.Summary, res.Results)
	}
}

func TestCheckDomainInvalid(t *testing.T) {
	c := NewChecker(fakeResolver{})
	if _, err := c.CheckDomain(context.Background(), "bad domain", CheckOptions{Selector: "s"}); !errors.Is(err, ErrInvalidDomain) {
		t.Errorf("error = %v, want ErrInvalidDomain", err)
	}
	if _, err := c.CheckDomain(context.Background(), "example.com", CheckOptions{}); !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("error = %v, want ErrInvalidSelector", err)
	}
}

func TestCheckDKIM(t *testing.T) {
	tests := []struct {
		name       string
		records    []string
		publicKey  string
		wantStatus string
	}{
		{"missing", nil, "", StatusNotFound},
		{"matching key", []string{testKey}, testKey, StatusOK},
		{"any key without expectation", []string{"v=DKIM1; k=rsa; p=MIIBIjAN"}, "", StatusOK},
		{"different key", []string{"v=DKIM1; k=rsa; p=MIIBIjAN"}, testKey, StatusError},
		{"revoked", []string{"v=DKIM1; p="}, "", StatusError},
		{"not dkim", []string{"hello"}, "", StatusWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := fakeResolver{}
			if tt.records != nil {
				resolver["s1._domainkey.example.com"] = tt.records
			}
			got := NewChecker(resolver).CheckDKIM(context.Background(), "example.com", "s1", tt.publicKey)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s (%s)", got.Status, tt.wantStatus, got.Message)
			}
		})
	}
}

func TestCheckSPFAndDMARC(t *testing.T) {
	c := NewChecker(fakeResolver{
		"open.example.com":         {"v=spf1 +all"},
		"_dmarc.open.example.com":  {"v=DMARC1; p=none"},
		"plain.example.com":        {"some other txt"},
		"_dmarc.plain.example.com": {"not dmarc"},
	})
	ctx := context.Background()

	tests := []struct {
		name string
		got  CheckResult
		want string
	}{
		{"spf +all", c.CheckSPF(ctx, "open.example.com"), StatusWarning},
		{"dmarc none", c.CheckDMARC(ctx, "open.example.com"), StatusWarning},
		{"spf absent among txt", c.CheckSPF(ctx, "plain.example.com"), StatusNotFound},
		{"dmarc malformed", c.CheckDMARC(ctx, "plain.example.com"), StatusWarning},
		{"spf nxdomain", c.CheckSPF(ctx, "missing.example.com"), StatusNotFound},
		{"spf lookup failure", c.CheckSPF(ctx, "broken.example.com"), StatusError},
	}

	for _, tt := range tests {
		if tt.got.Status != tt.want {
			t.Errorf("%s: Status = %s, want %s (%s)", tt.name, tt.got.Status, tt.want, tt.got.Message)
		}
	}
}

func TestSummaryReady(t *testing.T) {
	if !(Summary{OK: 2, Warnings: 1}).Ready() {
		t.Error("warnings alone should be ready")
	}
	if (Summary{OK: 2, NotFound: 1}).Ready() {
		t.Error("missing record should not be ready")
	}
}
