package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/dkim"
	"github.com/foxzi/mailforge/internal/dnscheck"
)

func TestDNSCheckTarget(t *testing.T) {
	kp, err := dkim.GenerateKey(dkim.AlgorithmEd25519, "example.com", "sel1")
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "example.com.key")
	if err := kp.SavePrivateKey(keyFile); err != nil {
		t.Fatal(err)
	}
	record, _ := kp.DNSRecord()

	cfg := config.Default()
	cfg.SMTP.From = "Mailforge <noreply@mail.example.org>"
	cfg.DKIM = config.DKIMConfig{Enabled: true, Domain: "example.com", Selector: "sel1", KeyFile: keyFile}

	dnsCheckSelector, dnsCheckKeyFile = "", ""

	domain, opts, err := dnsCheckTarget(cfg, nil)
	if err != nil {
		t.Fatalf("dnsCheckTarget(config) error = %v", err)
	}
	if domain != "example.com" || opts.Selector != "sel1" || opts.PublicKey != record {
		t.Errorf("target = %q %+v", domain, opts)
	}

	// Falls back to the smtp.from domain without DKIM
	cfg.DKIM = config.DKIMConfig{}
	domain, opts, err = dnsCheckTarget(cfg, nil)
	if err != nil {
		t.Fatalf("dnsCheckTarget(from) error = %v", err)
	}
	if domain != "mail.example.org" || opts.Selector != "mailforge" || opts.PublicKey != "" {
		t.Errorf("target = %q %+v", domain, opts)
	}

	// Argument wins over config
	if domain, _, _ = dnsCheckTarget(cfg, []string{"other.example"}); domain != "other.example" {
		t.Errorf("domain = %q, want other.example", domain)
	}

	if _, _, err := dnsCheckTarget(nil, nil); err == nil {
		t.Error("dnsCheckTarget() without domain expected error")
	}
}

func TestPrintDNSCheck(t *testing.T) {
	res := &dnscheck.DomainCheckResult{
		Domain: "example.com",
		Results: []dnscheck.CheckResult{
			{Type: "SPF Record", Status: dnscheck.StatusOK, Value: "v=spf1 -all"},
			{Type: "DMARC Record", Status: dnscheck.StatusNotFound, Message: "No DMARC record found"},
		},
		Summary: dnscheck.Summary{OK: 1, NotFound: 1},
	}

	var out bytes.Buffer
	if err := printDNSCheck(&out, res, false); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"[ OK  ] SPF Record", "[MISS ] DMARC Record", "missing: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output misses %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := printDNSCheck(&out, res, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"not_found": 1`) {
		t.Errorf("json output = %s", out.String())
	}
}
