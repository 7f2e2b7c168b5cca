package main

import (
	"github.com/smallbiznis/storefront/internal/migration"
	"github.com/smallbiznis/storefront/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server receiving payment webhooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []fx.Option{infrastructure()}
			if !skipMigrations {
				opts = append(opts, migration.Module)
			}
			opts = append(opts, server.Module)

			app := fx.New(opts...)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply schema migrations on start")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(infrastructure(), migration.Module, fx.NopLogger)
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			return app.Stop(cmd.Context())
		},
	}
}
