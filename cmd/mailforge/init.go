package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailforge/internal/dkim"
)

var (
	initHostname string
	initOutput   string
	initDataDir  string
	initAPIKey   string
	initDKIM     bool
	initDomain   string
	initSMTPHost string
	initSMTPFrom string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Mailforge configuration",
	Long: `Interactive wizard to create a Mailforge configuration file.

This command helps you set up Mailforge by:
  1. Creating a configuration file with a generated API key
  2. Optionally generating a DKIM key for signed test sends
  3. Showing the DNS record to publish for that key

Examples:
  # Interactive mode - prompts for missing values
  mailforge init

  # Non-interactive with all flags
  mailforge init --hostname editor.example.com --data-dir ./data --dkim --domain example.com

  # Quick local setup
  mailforge init --data-dir ./data -o dev.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initHostname, "hostname", "", "Server hostname FQDN, used in Message-IDs")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/mailforge", "Data directory for templates, uploads and keys")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initDKIM, "dkim", false, "Generate a DKIM key for test sends")
	initCmd.Flags().StringVar(&initDomain, "domain", "", "Sender domain for DKIM (default: hostname without first label)")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay for test sends (empty disables them)")
	initCmd.Flags().StringVar(&initSMTPFrom, "smtp-from", "", "From address for test sends")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	interactive := !cmd.Flags().Changed("hostname")

	fmt.Fprintln(out, "Mailforge Configuration Wizard")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)

	if initHostname == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "localhost"
		}
		initHostname = prompt(reader, out, "Server hostname", hostname)
	}

	if interactive {
		initDataDir = prompt(reader, out, "Data directory", initDataDir)
		if initSMTPHost == "" {
			initSMTPHost = prompt(reader, out, "SMTP relay host for test sends (empty to skip)", "")
		}
		if !initDKIM {
			answer := strings.ToLower(prompt(reader, out, "Generate DKIM key? [y/N]", "n"))
			initDKIM = answer == "y" || answer == "yes"
		}
	}

	if initDomain == "" {
		initDomain = parentDomain(initHostname)
		if initDKIM && interactive {
			initDomain = prompt(reader, out, "DKIM domain", initDomain)
		}
	}
	if initSMTPHost != "" && initSMTPFrom == "" {
		initSMTPFrom = "Mailforge <noreply@" + initDomain + ">"
	}

	if initAPIKey == "" {
		initAPIKey = generateToken(32)
		fmt.Fprintf(out, "  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Fprintf(out, "  Warning: Could not create data directory: %v\n", err)
	}

	var dkimKeyPath, dkimDNSName, dkimDNSRecord string
	if initDKIM {
		dkimDir := filepath.Join(initDataDir, "dkim")
		if err := os.MkdirAll(dkimDir, 0700); err != nil {
			return fmt.Errorf("failed to create DKIM directory: %w", err)
		}

		kp, err := dkim.GenerateKey(dkim.AlgorithmRSA, initDomain, "mailforge")
		if err != nil {
			return fmt.Errorf("failed to generate DKIM key: %w", err)
		}

		dkimKeyPath = filepath.Join(dkimDir, initDomain+".key")
		if err := kp.SavePrivateKey(dkimKeyPath); err != nil {
			return fmt.Errorf("failed to save DKIM key: %w", err)
		}

		dkimDNSRecord, err = kp.DNSRecord()
		if err != nil {
			return fmt.Errorf("failed to build DKIM record: %w", err)
		}
		dkimDNSName = kp.DNSName()
		fmt.Fprintf(out, "  DKIM key saved to: %s\n", dkimKeyPath)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(dkimKeyPath)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(out, "  Configuration saved to: %s\n", initOutput)
	fmt.Fprintln(out)

	if dkimDNSName != "" {
		fmt.Fprintln(out, "DNS Record to Add")
		fmt.Fprintln(out, "=================")
		fmt.Fprintf(out, "   Name:  %s\n", dkimDNSName)
		fmt.Fprintf(out, "   Type:  TXT\n")
		fmt.Fprintf(out, "   Value: %s\n", dkimDNSRecord)
		fmt.Fprintln(out)
	}

	printNextSteps(out)
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultValue)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// parentDomain strips the first label: editor.example.com -> example.com.
func parentDomain(hostname string) string {
	if i := strings.Index(hostname, "."); i > 0 && strings.Contains(hostname[i+1:], ".") {
		return hostname[i+1:]
	}
	return hostname
}

func generateConfig(dkimKeyPath string) string {
	smtpSection := `smtp:
  # Relay used by "send-test"; leave host empty to disable test sends
  host: ""
  port: 587
  tls: "starttls"`
	if initSMTPHost != "" {
		smtpSection = fmt.Sprintf(`smtp:
  host: %q
  port: 587
  tls: "starttls"     # starttls, implicit, none
  username: ""
  password: ""
  from: %q
  timeout: 30s`, initSMTPHost, initSMTPFrom)
	}

	dkimSection := fmt.Sprintf(`dkim:
  enabled: false
  selector: "mailforge"
  domain: %q
  key_file: %q`, initDomain, filepath.Join(initDataDir, "dkim", initDomain+".key"))
	if dkimKeyPath != "" {
		dkimSection = fmt.Sprintf(`dkim:
  enabled: true
  selector: "mailforge"
  domain: %q
  key_file: %q`, initDomain, dkimKeyPath)
	}

	return fmt.Sprintf(`# Mailforge configuration
# Generated by: mailforge init

server:
  hostname: %q

api:
  listen_addr: ":3000"
  api_key: %q
  # Per-user tokens, see "mailforge hash-token"
  # users:
  #   alice: "$2a$10$..."
  default_user: "default"
  cors_origins: []
  max_body_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s

storage:
  path: %q

uploads:
  backend: "local"   # local, s3
  dir: %q
  base_url: "/uploads/"
  max_bytes: 5242880  # 5 MB

%s

%s

rate_limit:
  enabled: true
  per_user:
    sends_per_hour: 50
  per_recipient:
    sends_per_day: 100

logging:
  level: "info"
  format: "json"

metrics:
  enabled: false
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"
`,
		initHostname,
		initAPIKey,
		filepath.Join(initDataDir, "mailforge.db"),
		filepath.Join(initDataDir, "uploads"),
		smtpSection,
		dkimSection,
	)
}

func printNextSteps(out io.Writer) {
	fmt.Fprintln(out, "Next Steps")
	fmt.Fprintln(out, "==========")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "1. Start the server:")
	fmt.Fprintf(out, "   mailforge serve -c %s\n", initOutput)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "2. Render a preview:")
	fmt.Fprintln(out, "   curl -X POST http://localhost:3000/api/v1/preview \\")
	fmt.Fprintf(out, "     -H \"Authorization: Bearer %s\" \\\n", initAPIKey)
	fmt.Fprintln(out, "     -H \"Content-Type: application/json\" \\")
	fmt.Fprintln(out, `     -d '{"title":"Hello","body":"First draft"}'`)
	fmt.Fprintln(out)
	if initSMTPHost != "" {
		fmt.Fprintln(out, "3. Fill in smtp.username and smtp.password, then send a test:")
		fmt.Fprintf(out, "   mailforge send-test -c %s --to you@%s --title Hello\n", initOutput, initDomain)
		fmt.Fprintln(out)
	}
}
