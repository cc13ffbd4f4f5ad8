// Command envelopectl seals, opens and verifies envelopes from the shell.
//
//	envelopectl seal --recipient alice.pem --signer-cert bob.pem --signer-key bob.key --in order.xml --out order.env
//	envelopectl open --key alice.pem:alice.key --in order.env
//	envelopectl verify --in order.env
//	envelopectl fingerprint alice.pem
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/vaultsandbox/envelope-go/internal/config"
)

// Config holds the process streams and the password source.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ReadPassword prompts for a PKCS#12 password.
	ReadPassword func(prompt string) (string, error)
}

// DefaultConfig returns a Config wired to the process streams and the
// controlling terminal.
func DefaultConfig() Config {
	return Config{
		Stdin:        os.Stdin,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		ReadPassword: terminalPassword(os.Stdin, os.Stderr),
	}
}

// run executes the command line args (without the program name).
func run(args []string, cfg Config) error {
	root := newRootCmd(cfg)
	root.SetArgs(args)
	return root.Execute()
}

// terminalPassword reads a password from the terminal without echo. It fails
// when stdin is not a terminal, for example when a payload is piped in.
func terminalPassword(stdin *os.File, stderr io.Writer) func(string) (string, error) {
	return func(prompt string) (string, error) {
		fd := int(stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("stdin is not a terminal; set " + config.EnvP12Password)
		}

		fmt.Fprint(stderr, prompt)
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
