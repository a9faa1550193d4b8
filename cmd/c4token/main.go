// c4token mints service tokens for the Control4 bridge's HTTP command API.
//
// The signing secret and issuer are read from the bridge configuration
// (GRAYLOGIC_CONFIG, or configs/config.yaml), so a token minted here is
// accepted by a bridge running with the same file.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-control4/internal/auth"
	"github.com/nerrad567/gray-logic-control4/internal/infrastructure/config"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		configPath string
		subject    string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:           "c4token",
		Short:         "Mint a service token for the Control4 bridge API",
		Long:          `Sign an HS256 bearer token with the bridge's configured secret. The subject is recorded against every command issued with the token.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = defaultConfigPath
				if env := os.Getenv("GRAYLOGIC_CONFIG"); env != "" {
					configPath = env
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			token, err := auth.IssueToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, subject, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}

			_, err = fmt.Fprintln(out, token)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "bridge config file (default $GRAYLOGIC_CONFIG or configs/config.yaml)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "core", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
