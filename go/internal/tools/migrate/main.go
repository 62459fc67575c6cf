package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/cuecard/go/internal/dbconfig"
	"github.com/mcdev12/cuecard/go/internal/timer/store/pgstore"
)

// Applies the timer tables and change triggers. The schema is idempotent, so
// running it against a migrated database only refreshes the triggers.
func main() {
	channel := pgstore.DefaultConfig().NotifyChannel
	if v := os.Getenv("CUECARD_PG_CHANNEL"); v != "" {
		channel = v
	}

	dsn := os.Getenv("CUECARD_PG_DSN")
	if dsn == "" {
		cfg := dbconfig.NewConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "db config: %v\n", err)
			os.Exit(1)
		}
		dsn = cfg.DSN()
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, pgstore.Schema(channel)); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Timer schema applied (notify channel %q)\n", channel)
}
