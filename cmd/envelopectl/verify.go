package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an envelope's signature and print the signer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			sealed, err := a.readInput(in)
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}

			signer, err := engine.Verify(sealed)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.io.Stdout, "signer:      %s\nfingerprint: %s\n", signer.Subject(), signer.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "envelope file, - for stdin")
	return cmd
}

func newFingerprintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint CERT...",
		Short: "Print the SHA-256 fingerprint of certificates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				id, err := a.keys.LoadCertificate(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.io.Stdout, "%s  %s\n", id.Fingerprint(), path)
			}
			return nil
		},
	}
}
