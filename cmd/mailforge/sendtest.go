package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailforge/internal/app"
	"github.com/foxzi/mailforge/internal/dkim"
	"github.com/foxzi/mailforge/internal/mailer"
	"github.com/foxzi/mailforge/internal/template"
)

var (
	sendTestFlags templateFlags
	sendTestTo    []string
	sendTestID    string
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a template through the configured SMTP relay",
	Long: `Send a rendered template to one or more recipients through smtp.* in the
config file. The template is either given with --title/--body/... or loaded
from storage with --id.

Examples:
  mailforge -c config.yaml send-test --to qa@example.com --title "Spring sale" --body "Hello"
  mailforge -c config.yaml send-test --to qa@example.com --id 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	RunE: runSendTest,
}

func init() {
	sendTestFlags.register(sendTestCmd)
	sendTestCmd.Flags().StringArrayVar(&sendTestTo, "to", nil, "Recipient address (repeatable, required)")
	sendTestCmd.Flags().StringVar(&sendTestID, "id", "", "Saved template ID")
	sendTestCmd.Flags().StringVar(&templateOwner, "owner", "", "Template owner for --id (default: api.default_user)")
	sendTestCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(sendTestCmd)
}

func runSendTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.SMTP.Enabled() {
		return fmt.Errorf("smtp.host is not configured")
	}

	m, err := sendTestModel(cmd.Context())
	if err != nil {
		return err
	}

	signer, err := dkim.NewSignerFromConfig(cfg.DKIM)
	if err != nil {
		return err
	}

	logger := app.SetupLogger(cfg.Logging)
	sender := mailer.New(cfg.SMTP, cfg.Server.Hostname, signer, logger.With("component", "mailer"))

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SMTP.Timeout)
	defer cancel()

	res, err := sender.Send(ctx, sendTestTo, m)
	if err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Message sent via %s\n", cfg.SMTP.Addr())
	fmt.Fprintf(out, "  Message-ID: %s\n", res.MessageID)
	fmt.Fprintf(out, "  To:         %s\n", strings.Join(res.Recipients, ", "))
	fmt.Fprintf(out, "  Size:       %d bytes\n", res.Size)
	if signer != nil {
		fmt.Fprintf(out, "  DKIM:       %s._domainkey.%s\n", signer.Selector(), signer.Domain())
	}
	return nil
}

func sendTestModel(ctx context.Context) (template.Model, error) {
	if sendTestID == "" {
		return sendTestFlags.model()
	}

	storage, owner, cleanup, err := getTemplateStorage()
	if err != nil {
		return template.Model{}, err
	}
	defer cleanup()

	rec, err := storage.Get(ctx, owner, sendTestID)
	if err != nil {
		return template.Model{}, fmt.Errorf("failed to get template: %w", err)
	}
	return rec.Model()
}
