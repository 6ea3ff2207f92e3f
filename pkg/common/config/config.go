package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Source export and output tree
	MIMIC3Path           string
	OutputPath           string
	EventTables          []string
	ItemIDsFile          string
	PhenotypeDefinitions string

	// Cohort filter
	CohortMinAge         float64
	CohortMaxAge         float64
	CohortMinStays       int
	CohortMaxStays       int
	CohortSentinelAge    float64
	CohortImplausibleAge float64

	// Event validation
	ValidateWorkers int

	// Test mode samples this many subjects when > 0
	TestModeSubjects int
	TestModeSeed     int64

	// Training reader
	DatasetDir string
	Listfile   string

	// Database (empty host disables the run ledger)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (empty host disables checkpoints)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CheckpointTTL time.Duration
	CheckpointKey string

	// Kafka (no brokers disables stage events)
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaStageTopic string
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8088"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		MIMIC3Path:           getEnv("MIMIC3_PATH", "data/mimic3"),
		OutputPath:           getEnv("OUTPUT_PATH", "data/root"),
		EventTables:          getStringSliceEnv("EVENT_TABLES", []string{"CHARTEVENTS", "LABEVENTS", "OUTPUTEVENTS"}),
		ItemIDsFile:          getEnv("ITEMIDS_FILE", ""),
		PhenotypeDefinitions: getEnv("PHENOTYPE_DEFINITIONS", ""),

		CohortMinAge:         getFloatEnv("COHORT_MIN_AGE", 18),
		CohortMaxAge:         getFloatEnv("COHORT_MAX_AGE", 0),
		CohortMinStays:       getIntEnv("COHORT_MIN_STAYS", 1),
		CohortMaxStays:       getIntEnv("COHORT_MAX_STAYS", 1),
		CohortSentinelAge:    getFloatEnv("COHORT_SENTINEL_AGE", 91.4),
		CohortImplausibleAge: getFloatEnv("COHORT_IMPLAUSIBLE_AGE", 300),

		ValidateWorkers: getIntEnv("VALIDATE_WORKERS", 4),

		TestModeSubjects: getIntEnv("TEST_MODE_SUBJECTS", 0),
		TestModeSeed:     int64(getIntEnv("TEST_MODE_SEED", 0)),

		DatasetDir: getEnv("DATASET_DIR", "data/decompensation/train"),
		Listfile:   getEnv("LISTFILE", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", ""),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "decompensation"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CheckpointTTL: getDuration("CHECKPOINT_TTL", 24*time.Hour),
		CheckpointKey: getEnv("CHECKPOINT_KEY", "decompensation:validated"),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "decompensation-validator"),
		KafkaStageTopic: getEnv("KAFKA_STAGE_TOPIC", "decompensation.stages"),
	}
}

func (c *Config) PostgresEnabled() bool {
	return c.PostgresHost != ""
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma separated value.
func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
