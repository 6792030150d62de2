package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/security"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func tokenCmd() *cobra.Command {
	var (
		subject, role, issuer, keyFile string
		ttl                            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := security.DefaultPolicy[role]; !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			signer, err := loadSigner(issuer, keyFile)
			if err != nil {
				return err
			}
			token, err := signer.Sign(subject, role, ttl, time.Now())
			if err != nil {
				return err
			}
			if keyFile == "" {
				pem, err := signer.PublicKeyPEM()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "ephemeral public key (set JWT_PUBLIC_KEY_PEM):\n%s\n", pem)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev-user", "token subject")
	cmd.Flags().StringVar(&role, "role", domain.RoleClinician, "clinic role claim")
	cmd.Flags().StringVar(&issuer, "issuer", "clinic-idp", "token issuer")
	cmd.Flags().StringVar(&keyFile, "private-key-file", "", "RSA private key in PEM; an ephemeral key is generated when empty")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func loadSigner(issuer, keyFile string) (*security.JWTSigner, error) {
	if keyFile == "" {
		return security.NewEphemeralJWTSigner("", issuer)
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return security.NewJWTSigner("clinicctl", issuer, string(raw))
}
