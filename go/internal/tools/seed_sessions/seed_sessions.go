package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/cuecard/go/internal/dbconfig"
	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/roomid"
)

// Session mirrors the JSON layout of the seed file.
type Session struct {
	ID     string               `json:"id"`
	Config models.SessionConfig `json:"config"`
}

func main() {
	path := "go/internal/assets/sessions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert idle sessions, leaving existing ones alone
	var (
		total    = len(sessions)
		inserted int
		skipped  int
		errs     int
	)

	for _, s := range sessions {
		id, err := roomid.Parse(s.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping session %q: %v\n", s.ID, err)
			errs++
			continue
		}
		sess := models.NewSession(id, s.Config)
		if err := sess.Config.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "skipping session %s: %v\n", id, err)
			errs++
			continue
		}
		configJSON, err := json.Marshal(sess.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode config %s: %v\n", id, err)
			errs++
			continue
		}
		stateJSON, err := json.Marshal(sess.State)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode state %s: %v\n", id, err)
			errs++
			continue
		}

		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO timer_sessions (id, config, state, updated_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO NOTHING
        `, id, string(configJSON), string(stateJSON), time.Now().UTC())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting session %s: %v\n", id, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Sessions seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
