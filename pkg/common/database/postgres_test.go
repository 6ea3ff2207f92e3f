package database

import (
	"strings"
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/config"
)

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{
		PostgresHost:    "db.internal",
		PostgresPort:    "6543",
		PostgresUser:    "etl",
		PostgresDB:      "decompensation",
		PostgresSSLMode: "require",
	}
	dsn := PostgresDSN(cfg)
	for _, want := range []string{"host=db.internal", "port=6543", "user=etl", "dbname=decompensation", "sslmode=require"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
