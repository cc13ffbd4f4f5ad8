package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	envelope "github.com/vaultsandbox/envelope-go"
	"github.com/vaultsandbox/envelope-go/internal/config"
	"github.com/vaultsandbox/envelope-go/internal/logging"
)

func newOpenCmd(a *app) *cobra.Command {
	var (
		flagged []config.IdentityConfig
		in, out string
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Verify an envelope and decrypt it with one of your identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := candidateConfigs(flagged, a.cfg.Identities)
			if err != nil {
				return err
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}

			candidates := make([]*envelope.PrivateIdentity, 0, len(ids))
			for _, id := range ids {
				c, err := a.loadIdentity(id)
				if err != nil {
					return err
				}
				candidates = append(candidates, c)
			}

			sealed, err := a.readInput(in)
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}

			opened, err := engine.Open(sealed, candidates)
			if err != nil {
				return err
			}
			a.log.Log(logging.InfoLevel, func() string {
				return fmt.Sprintf("opened envelope signed by %s (%s) for %s",
					opened.Signer.Subject(), opened.Signer.Fingerprint(), opened.Recipient.Subject())
			})
			return a.writeOutput(out, opened.Payload)
		},
	}

	flags := cmd.Flags()
	addIdentityFlags(flags, &flagged)
	flags.StringVar(&in, "in", "-", "envelope file, - for stdin")
	flags.StringVar(&out, "out", "-", "payload file, - for stdout")
	return cmd
}

// identityFlag is a repeatable flag that appends to a list shared with its
// sibling, so --key and --p12 keep their command-line order.
type identityFlag struct {
	ids    *[]config.IdentityConfig
	pkcs12 bool
}

var _ pflag.Value = (*identityFlag)(nil)

func (f *identityFlag) Set(v string) error {
	if f.pkcs12 {
		if v == "" {
			return errors.New("want a PKCS#12 file")
		}
		*f.ids = append(*f.ids, config.IdentityConfig{PKCS12: v})
		return nil
	}

	cert, key, ok := strings.Cut(v, ":")
	if !ok || cert == "" || key == "" {
		return errors.New("want cert.pem:key.pem")
	}
	*f.ids = append(*f.ids, config.IdentityConfig{Cert: cert, Key: key})
	return nil
}

func (f *identityFlag) String() string {
	var out []string
	for _, id := range *f.ids {
		switch {
		case f.pkcs12 && id.PKCS12 != "":
			out = append(out, id.PKCS12)
		case !f.pkcs12 && id.PKCS12 == "":
			out = append(out, id.Cert+":"+id.Key)
		}
	}
	return "[" + strings.Join(out, ",") + "]"
}

func (f *identityFlag) Type() string {
	if f.pkcs12 {
		return "file"
	}
	return "cert:key"
}

// addIdentityFlags registers --key and --p12, both appending to ids.
func addIdentityFlags(flags *pflag.FlagSet, ids *[]config.IdentityConfig) {
	flags.Var(&identityFlag{ids: ids}, "key", "decryption identity as cert.pem:key.pem (repeatable)")
	flags.Var(&identityFlag{ids: ids, pkcs12: true}, "p12", "decryption identity as a PKCS#12 file (repeatable)")
}

// candidateConfigs returns the identities given on the command line, or the
// configured ones when there are none.
func candidateConfigs(flagged, configured []config.IdentityConfig) ([]config.IdentityConfig, error) {
	if len(flagged) > 0 {
		return flagged, nil
	}
	if len(configured) == 0 {
		return nil, errors.New("at least one decryption identity is required (--key or --p12)")
	}
	return configured, nil
}
