package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudbase/internal/db"
	"cloudbase/internal/users"
)

func newUserCmd(configPath *string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var password string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user account",
		Long: `Create a user account directly in the database, bypassing the sign-up
endpoint. The same username and password rules apply.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := users.Credentials{Username: args[0], Password: password}
			if err := creds.Validate(); err != nil {
				return err
			}

			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.DatabaseURL == "" {
				return errors.New("database_url is required")
			}
			conn, err := db.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer func() { _ = conn.Close() }()

			svc := users.NewService(users.NewRepository(conn), cfg.Session.BcryptCost, log.Named("users"))
			u, err := svc.SignUp(cmd.Context(), creds)
			if err != nil {
				return err
			}
			log.Info("user_created", zap.String("username", u.Username), zap.Int64("id", u.ID))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", u.Username)
			return err
		},
	}
	create.Flags().StringVarP(&password, "password", "p", "", "password for the new account")
	_ = create.MarkFlagRequired("password")

	userCmd.AddCommand(create)
	return userCmd
}
