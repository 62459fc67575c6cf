package backend

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuecard/go/internal/config"
	"github.com/mcdev12/cuecard/go/internal/models"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
	"github.com/mcdev12/cuecard/go/internal/timer/store/redisstore"
)

func TestOpen_Memory(t *testing.T) {
	st, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Backend: config.BackendMemory}}, nil)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &store.MemoryStore{}, st)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := &config.Config{
		Store: config.StoreConfig{Backend: config.BackendRedis},
		Redis: config.RedisConfig{Addr: mr.Addr(), Prefix: "test"},
	}

	st, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &redisstore.Store{}, st)

	require.NoError(t, st.CreateSession(ctx, "STAGE4", models.NewSession("STAGE4", models.SessionConfig{})))
	assert.True(t, mr.Exists("test:session:STAGE4"))
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "etcd"}}, nil)
	assert.ErrorContains(t, err, "etcd")
}
