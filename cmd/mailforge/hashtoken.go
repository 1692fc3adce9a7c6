package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minTokenLength = 16

var (
	hashTokenValue    string
	hashTokenGenerate bool
	hashTokenUser     string
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Hash an API token for api.users",
	Long: `Hash an API token with bcrypt and print the api.users entry.

The token is read from the terminal unless --token or --generate is given.
Clients send it with HTTP Basic auth as <user>:<token>.`,
	RunE: runHashToken,
}

func init() {
	hashTokenCmd.Flags().StringVar(&hashTokenValue, "token", "", "Token to hash")
	hashTokenCmd.Flags().BoolVar(&hashTokenGenerate, "generate", false, "Generate a random token")
	hashTokenCmd.Flags().StringVar(&hashTokenUser, "user", "", "User id for the printed config line")

	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(cmd *cobra.Command, args []string) error {
	token := hashTokenValue
	switch {
	case hashTokenGenerate:
		token = generateToken(32)
		fmt.Fprintf(cmd.OutOrStdout(), "Token: %s\n", token)
	case token == "":
		var err error
		if token, err = readToken(); err != nil {
			return err
		}
	}

	if len(token) < minTokenLength {
		return fmt.Errorf("token must be at least %d characters", minTokenLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	out := cmd.OutOrStdout()
	if hashTokenUser != "" {
		fmt.Fprintf(out, "api:\n  users:\n    %s: %q\n", hashTokenUser, string(hash))
	} else {
		fmt.Fprintln(out, string(hash))
	}
	return nil
}

// readToken prompts twice without echo.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal (use --token or --generate)")
	}

	fmt.Fprint(os.Stderr, "Enter token: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm token: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("tokens do not match")
	}
	return string(first), nil
}

// generateToken returns a random hex token of length characters.
func generateToken(length int) string {
	b := make([]byte, length/2)
	rand.Read(b)
	return hex.EncodeToString(b)
}
