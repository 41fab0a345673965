package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RajaSunrise/toko-order/internal/app"
	"github.com/RajaSunrise/toko-order/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:          "toko-order",
		Short:        "Order placement service for the toko store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(viper.New())
			if err != nil {
				return err
			}
			cfg = loaded
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			})).With("service", cfg.ServiceName))
			return nil
		},
	}

	cmd.AddCommand(newServeCommand(&cfg))
	cmd.AddCommand(newMigrateCommand(&cfg))
	cmd.AddCommand(newSeedCommand(&cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the order event consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfg)
			if err != nil {
				return err
			}
			if err := a.Migrate(); err != nil {
				a.Shutdown()
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if seed || cfg.DatabaseDriver == "memory" {
				if err := a.Seed(ctx); err != nil {
					a.Shutdown()
					return err
				}
			}
			if err := a.StartAuditConsumers(ctx); err != nil {
				slog.Warn("audit consumers not started", "error", err)
			}

			listenErr := make(chan error, 1)
			go func() {
				slog.Info("starting server", "addr", cfg.AppPort, "driver", cfg.DatabaseDriver)
				listenErr <- a.Listen()
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutting down server")
			case err := <-listenErr:
				slog.Error("server failed", "error", err)
			}

			if err := a.Shutdown(); err != nil {
				slog.Error("error during shutdown", "error", err)
				return err
			}
			slog.Info("server gracefully stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "seed default accounts and products before serving")
	return cmd
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfg)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			if err := a.Migrate(); err != nil {
				return err
			}
			slog.Info("migration complete", "driver", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newSeedCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert default accounts, products and sample orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfg)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			if err := a.Migrate(); err != nil {
				return err
			}
			return a.Seed(cmd.Context())
		},
	}
}
