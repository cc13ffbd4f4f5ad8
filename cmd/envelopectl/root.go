package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	envelope "github.com/vaultsandbox/envelope-go"
	"github.com/vaultsandbox/envelope-go/internal/config"
	"github.com/vaultsandbox/envelope-go/internal/keystore"
	"github.com/vaultsandbox/envelope-go/internal/logging"
)

// app is the state shared by all subcommands of one invocation.
type app struct {
	io Config

	configPath string
	format     string
	logLevel   string
	logFormat  string

	cfg  *config.Config
	log  logging.Logger
	keys *keystore.Loader
}

func newRootCmd(streams Config) *cobra.Command {
	a := &app{io: streams}

	root := &cobra.Command{
		Use:           "envelopectl",
		Short:         "Seal, open and verify signed encrypted envelopes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(streams.Stdin)
	root.SetOut(streams.Stdout)
	root.SetErr(streams.Stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "TOML configuration file")
	flags.StringVar(&a.format, "format", "", "envelope format: xml|compact")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: console|json")

	root.AddCommand(
		newSealCmd(a),
		newOpenCmd(a),
		newVerifyCmd(a),
		newFingerprintCmd(a),
	)
	return root
}

// setup loads configuration, applies flags on top and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv("."); err != nil {
		return err
	}

	cfg, err := config.Resolve(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = a.format
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(a.io.Stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log.With("op", uuid.NewString()).With("cmd", cmd.Name())
	a.keys = keystore.New(a.log)
	return nil
}

func (a *app) engine() (*envelope.Engine, error) {
	format, err := envelope.ParseFormat(a.cfg.Format)
	if err != nil {
		return nil, err
	}
	return envelope.New(envelope.WithFormat(format))
}

// readInput reads path, or stdin when path is "-".
func (a *app) readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(a.io.Stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to path, or stdout when path is "-".
func (a *app) writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := a.io.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// p12Password returns the configured PKCS#12 password, prompting once when
// none is configured.
func (a *app) p12Password(path string) (string, error) {
	if a.cfg.P12Password != "" {
		return a.cfg.P12Password, nil
	}
	if a.io.ReadPassword == nil {
		return "", fmt.Errorf("no password for %s; set %s", path, config.EnvP12Password)
	}
	pw, err := a.io.ReadPassword(fmt.Sprintf("Password for %s: ", path))
	if err != nil {
		return "", err
	}
	a.cfg.P12Password = pw
	return pw, nil
}

// loadIdentity loads a PEM pair or a PKCS#12 file.
func (a *app) loadIdentity(id config.IdentityConfig) (*envelope.PrivateIdentity, error) {
	if id.PKCS12 != "" {
		pw, err := a.p12Password(id.PKCS12)
		if err != nil {
			return nil, err
		}
		return a.keys.LoadPKCS12(id.PKCS12, pw)
	}
	return a.keys.LoadKeyPair(id.Cert, id.Key)
}
