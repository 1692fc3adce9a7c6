package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailforge/internal/config"
	"github.com/foxzi/mailforge/internal/dkim"
	"github.com/foxzi/mailforge/internal/dnscheck"
	"github.com/foxzi/mailforge/internal/email"
)

var (
	dnsCheckSelector string
	dnsCheckKeyFile  string
	dnsCheckJSON     bool
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS checks for the test send domain",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check [domain]",
	Short: "Check SPF, DKIM and DMARC records",
	Long: `Check that the sender domain publishes SPF, DKIM and DMARC records.

Without arguments the domain, selector and key are taken from the dkim and
smtp sections of the -c config file. With --key the published DKIM record
must match the private key.

Examples:
  mailforge dns check -c config.yaml
  mailforge dns check example.com --selector mailforge --key /var/lib/mailforge/dkim/example.com.key`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVar(&dnsCheckSelector, "selector", "", "DKIM selector (default: dkim.selector or mailforge)")
	dnsCheckCmd.Flags().StringVar(&dnsCheckKeyFile, "key", "", "Private key the DKIM record must match")
	dnsCheckCmd.Flags().BoolVar(&dnsCheckJSON, "json", false, "Print results as JSON")

	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	}

	domain, opts, err := dnsCheckTarget(cfg, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	res, err := dnscheck.NewChecker(nil).CheckDomain(ctx, domain, opts)
	if err != nil {
		return err
	}

	if err := printDNSCheck(cmd.OutOrStdout(), res, dnsCheckJSON); err != nil {
		return err
	}
	if !res.Summary.Ready() {
		return fmt.Errorf("%s is not ready for signed test sends", res.Domain)
	}
	return nil
}

// dnsCheckTarget resolves the domain and options from flags, falling back to
// cfg when it is set.
func dnsCheckTarget(cfg *config.Config, args []string) (string, dnscheck.CheckOptions, error) {
	var domain string
	opts := dnscheck.CheckOptions{Selector: dnsCheckSelector}
	keyFile := dnsCheckKeyFile

	if len(args) > 0 {
		domain = args[0]
	}
	if cfg != nil {
		if domain == "" {
			domain = cfg.DKIM.Domain
		}
		if domain == "" && cfg.SMTP.From != "" {
			if addr, err := email.ParseAddress(cfg.SMTP.From); err == nil {
				domain = email.Domain(addr.Address)
			}
		}
		if opts.Selector == "" {
			opts.Selector = cfg.DKIM.Selector
		}
		if keyFile == "" && cfg.DKIM.Enabled {
			keyFile = cfg.DKIM.KeyFile
		}
	}

	if domain == "" {
		return "", opts, fmt.Errorf("domain is required (argument or -c config with dkim.domain)")
	}
	if opts.Selector == "" {
		opts.Selector = "mailforge"
	}

	if keyFile != "" {
		key, err := dkim.LoadPrivateKey(keyFile)
		if err != nil {
			return "", opts, fmt.Errorf("failed to load private key: %w", err)
		}
		if opts.PublicKey, err = dkim.PublicKeyRecord(key); err != nil {
			return "", opts, err
		}
	}

	return domain, opts, nil
}

func printDNSCheck(out io.Writer, res *dnscheck.DomainCheckResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "DNS check for %s\n\n", res.Domain)
	for _, r := range res.Results {
		fmt.Fprintf(out, "[%s] %s\n", statusLabel(r.Status), r.Type)
		if r.Value != "" {
			fmt.Fprintf(out, "       %s\n", r.Value)
		}
		if r.Message != "" {
			fmt.Fprintf(out, "       %s\n", r.Message)
		}
	}
	fmt.Fprintf(out, "\nOK: %d, warnings: %d, errors: %d, missing: %d\n",
		res.Summary.OK, res.Summary.Warnings, res.Summary.Errors, res.Summary.NotFound)
	return nil
}

func statusLabel(status string) string {
	switch status {
	case dnscheck.StatusOK:
		return " OK  "
	case dnscheck.StatusWarning:
		return "WARN "
	case dnscheck.StatusNotFound:
		return "MISS "
	default:
		return "FAIL "
	}
}
