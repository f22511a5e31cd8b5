package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/therealityreport/socializer-backend/migrations"
)

func MigrateCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		Short:     "Applies the embedded database migrations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := os.Getenv("DATABASE_URL")
			if url == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			db, err := sql.Open("pgx", url)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.PingContext(ctx); err != nil {
				return err
			}

			switch args[0] {
			case "down":
				return migrations.Down(db)
			case "status":
				return migrations.Status(db)
			}

			return migrations.Up(db)
		},
	}

	return cmd
}
