package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"assetdesk.org/internal/config"
	"assetdesk.org/internal/migrate"
	"assetdesk.org/internal/obs"
	"assetdesk.org/internal/store/pg"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		obs.Logger().Warn("dotenv", zap.Error(err))
	}
	if err := newRootCmd().Execute(); err != nil {
		obs.Logger().Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply the PostgreSQL schema and demo seeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindOptions(v, root, config.MigrateOptions())

	root.AddCommand(
		action(v, "up", "Apply pending migrations", func(ctx context.Context, m *migrate.Manager) error {
			return m.Up(ctx)
		}),
		action(v, "down", "Roll back the latest migration", func(ctx context.Context, m *migrate.Manager) error {
			return m.Down(ctx)
		}),
		action(v, "seed", "Load demo data", func(ctx context.Context, m *migrate.Manager) error {
			return m.Seed(ctx)
		}),
		action(v, "status", "List applied migrations", func(ctx context.Context, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Println(item)
			}
			return nil
		}),
	)
	return root
}

func action(v *viper.Viper, use, short string, fn func(context.Context, *migrate.Manager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := obs.SetLevel(v.GetString(config.FlagLogLevel)); err != nil {
				return err
			}
			dsn := strings.TrimSpace(v.GetString(config.FlagPGDSN))
			if dsn == "" {
				return errors.New("missing DSN: provide via --pg-dsn or ASSETDESK_PG_DSN")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			mgr := migrate.NewManager(db, pg.Migrations(), pg.Seeds())
			if err := fn(ctx, mgr); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			obs.Logger().Info("migrate done", zap.String("command", use))
			return nil
		},
	}
}
