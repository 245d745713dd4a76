package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otiai10/quakecast/internal/delivery/webhook"
)

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a webhook signing secret",
		Long: `Print a new random secret for notify.webhooks[].secret or
notify.ingest_secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := webhook.GenerateSecret()
			if err != nil {
				return fmt.Errorf("failed to generate secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
