package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COHORT_MIN_AGE", "")
	t.Setenv("KAFKA_BROKERS", "")
	cfg := Load()
	if cfg.CohortMinAge != 18 {
		t.Fatalf("expected min age 18, got %v", cfg.CohortMinAge)
	}
	if cfg.CohortMaxStays != 1 {
		t.Fatalf("expected max stays 1, got %d", cfg.CohortMaxStays)
	}
	if cfg.KafkaEnabled() {
		t.Fatal("expected kafka disabled without brokers")
	}
	if len(cfg.EventTables) != 3 {
		t.Fatalf("expected 3 default event tables, got %v", cfg.EventTables)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COHORT_SENTINEL_AGE", "90")
	t.Setenv("EVENT_TABLES", "CHARTEVENTS, LABEVENTS")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("CHECKPOINT_TTL", "2h")
	t.Setenv("VALIDATE_WORKERS", "not-a-number")

	cfg := Load()
	if cfg.CohortSentinelAge != 90 {
		t.Fatalf("expected sentinel 90, got %v", cfg.CohortSentinelAge)
	}
	if len(cfg.EventTables) != 2 || cfg.EventTables[1] != "LABEVENTS" {
		t.Fatalf("unexpected event tables %v", cfg.EventTables)
	}
	if len(cfg.KafkaBrokers) != 2 || !cfg.KafkaEnabled() {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.CheckpointTTL != 2*time.Hour {
		t.Fatalf("unexpected ttl %v", cfg.CheckpointTTL)
	}
	if cfg.ValidateWorkers != 4 {
		t.Fatalf("expected fallback to default workers, got %d", cfg.ValidateWorkers)
	}
}
