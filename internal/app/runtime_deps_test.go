package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/platform/kv"
)

func TestOpenDepsSQLiteWithMemoryBus(t *testing.T) {
	cfg := &Config{
		StoreDriver:      kv.DriverSQLite,
		StorePath:        filepath.Join(t.TempDir(), "ledger.db"),
		BusDriver:        BusMemory,
		SyncPollInterval: time.Minute,
		SyncTimeout:      time.Second,
		InvoicePrefix:    "EST-",
	}
	deps, err := OpenDeps(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.Close()) })

	require.Nil(t, deps.Redis)
	require.IsType(t, &kv.SQLite{}, deps.Store)
	require.IsType(t, &bus.Memory{}, deps.Bus)

	opts := deps.EngineOptions(cfg, nil, nil)
	require.Equal(t, "EST-", opts.InvoicePrefix)
	require.Equal(t, time.Minute, opts.PollInterval)
	require.Nil(t, opts.Seed)
}

func TestOpenDepsRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := &Config{
		StoreDriver:   kv.DriverRedis,
		BusDriver:     BusRedis,
		RedisAddr:     srv.Addr(),
		SyncNamespace: "shop-1",
		SyncEndpoint:  "https://sync.example.com/data",
		SyncToken:     "t",
	}
	deps, err := OpenDeps(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, deps.Close()) })

	require.NotNil(t, deps.Redis)
	require.IsType(t, &kv.Redis{}, deps.Store)
	require.IsType(t, &bus.Redis{}, deps.Bus)

	opts := deps.EngineOptions(cfg, nil, nil)
	require.NotNil(t, opts.Seed)
	require.Equal(t, "https://sync.example.com/data", opts.Seed.Endpoint)
}
