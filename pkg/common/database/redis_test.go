package database

import (
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/config"
)

func TestRedisOptions(t *testing.T) {
	cfg := &config.Config{
		RedisHost:       "cache.internal",
		RedisPort:       "6380",
		RedisDB:         3,
		ValidateWorkers: 8,
	}
	opts := RedisOptions(cfg)
	if opts.Addr != "cache.internal:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 3 {
		t.Fatalf("expected db 3, got %d", opts.DB)
	}
	if opts.PoolSize != 10 {
		t.Fatalf("expected pool sized to workers, got %d", opts.PoolSize)
	}
	if opts.ClientName != checkpointClientName {
		t.Fatalf("unexpected client name %q", opts.ClientName)
	}

	cfg.ValidateWorkers = 0
	if got := RedisOptions(cfg).PoolSize; got != 3 {
		t.Fatalf("expected minimum pool of 3, got %d", got)
	}
}
