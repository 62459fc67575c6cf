// Package backend opens the session store named in the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/config"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
	"github.com/mcdev12/cuecard/go/internal/timer/store/pgstore"
	"github.com/mcdev12/cuecard/go/internal/timer/store/redisstore"
)

// Open connects to the configured backend. The memory backend only shares
// state inside one process.
func Open(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (store.Store, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory store; sessions are not shared between processes")
		return store.NewMemoryStore(clock), nil
	case config.BackendPostgres:
		st, err := pgstore.Open(cfg.PostgresStore())
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case config.BackendRedis:
		st, err := redisstore.Open(ctx, cfg.RedisStore())
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
