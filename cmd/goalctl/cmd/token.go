package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tendwell/companion/internal/service"
)

func TokenCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			auth := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry, cfg.IsProduction())

			token, err := auth.GenerateJWT(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to embed in the token")
	cmd.MarkFlagRequired("user")
	return cmd
}
