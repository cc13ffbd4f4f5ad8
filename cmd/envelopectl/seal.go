package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultsandbox/envelope-go/internal/config"
	"github.com/vaultsandbox/envelope-go/internal/logging"
)

func newSealCmd(a *app) *cobra.Command {
	var (
		recipient string
		signer    config.IdentityConfig
		in, out   string
	)

	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a payload for a recipient and sign it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if recipient == "" {
				recipient = a.cfg.Recipient
			}
			if signer.IsZero() {
				signer = a.cfg.Signer
			}
			if recipient == "" {
				return errors.New("a recipient certificate is required (--recipient)")
			}
			if signer.IsZero() {
				return errors.New("a signer is required (--signer-cert and --signer-key, or --signer-p12)")
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			to, err := a.keys.LoadCertificate(recipient)
			if err != nil {
				return err
			}
			from, err := a.loadIdentity(signer)
			if err != nil {
				return err
			}

			payload, err := a.readInput(in)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			sealed, err := engine.Seal(payload, to, from)
			if err != nil {
				return err
			}
			a.log.Log(logging.InfoLevel, func() string {
				return fmt.Sprintf("sealed %d bytes for %s as %s (%s envelope)", len(payload), to.Subject(), from.Subject(), engine.Format())
			})
			return a.writeOutput(out, sealed)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&recipient, "recipient", "", "recipient certificate (PEM or DER)")
	flags.StringVar(&signer.Cert, "signer-cert", "", "signer certificate (PEM)")
	flags.StringVar(&signer.Key, "signer-key", "", "signer private key (PEM)")
	flags.StringVar(&signer.PKCS12, "signer-p12", "", "signer PKCS#12 file")
	flags.StringVar(&in, "in", "-", "payload file, - for stdin")
	flags.StringVar(&out, "out", "-", "envelope file, - for stdout")
	cmd.MarkFlagsMutuallyExclusive("signer-p12", "signer-cert")
	cmd.MarkFlagsMutuallyExclusive("signer-p12", "signer-key")
	cmd.MarkFlagsRequiredTogether("signer-cert", "signer-key")
	return cmd
}
