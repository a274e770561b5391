package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type GroupSyncConfiguration struct {
	BaseDN      string
	DcFQDN      string
	Username    string
	Password    string
	PageSize    uint32
	LDAPTimeout time.Duration

	SnapshotStore  string
	DSN            string
	GCSBucket      string
	GCSCredentials string

	CrawlParallelism   int
	ApplyBatchSize     int
	ApplyMaxAttempts   int
	ApplyRatePerSec    float64
	ChunkSize          int
	TransferWorkers    int
	ThresholdAddPct    float64
	ThresholdRemovePct float64

	MetricsAddr string
}

// LoadEnvConfig loads configName into the environment, if it exists, and
// reads the configuration from the environment. Variables already set in
// the environment take precedence over the file.
func LoadEnvConfig(configName string) (GroupSyncConfiguration, error) {
	if configName != "" {
		if err := godotenv.Load(configName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return GroupSyncConfiguration{}, fmt.Errorf("error loading %s: %w", configName, err)
		}
	}

	r := &reader{}
	cfg := GroupSyncConfiguration{
		BaseDN:   os.Getenv("LDAP_BASEDN"),
		DcFQDN:   os.Getenv("LDAP_DCFQDN"),
		Username: os.Getenv("LDAP_USERNAME"),
		Password: os.Getenv("LDAP_PASSWORD"),

		PageSize:    uint32(r.int("LDAP_PAGESIZE", 1000)),
		LDAPTimeout: r.duration("LDAP_TIMEOUT", 30*time.Second),

		SnapshotStore:  stringOr("SNAPSHOT_STORE", "memory"),
		DSN:            os.Getenv("GROUPSYNC_DSN"),
		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSCredentials: os.Getenv("GCS_CREDENTIALS"),

		CrawlParallelism:   r.int("CRAWL_PARALLELISM", 256),
		ApplyBatchSize:     r.int("APPLY_BATCH_SIZE", 100),
		ApplyMaxAttempts:   r.int("APPLY_MAX_ATTEMPTS", 5),
		ApplyRatePerSec:    r.float("APPLY_RATE_PER_SEC", 4),
		ChunkSize:          r.int("CHUNK_SIZE", 5000),
		TransferWorkers:    r.int("TRANSFER_WORKERS", 4),
		ThresholdAddPct:    r.float("THRESHOLD_ADD_PCT", 10),
		ThresholdRemovePct: r.float("THRESHOLD_REMOVE_PCT", 10),

		MetricsAddr: stringOr("METRICS_ADDR", ":9090"),
	}
	if r.err != nil {
		return GroupSyncConfiguration{}, r.err
	}
	return cfg, cfg.validate()
}

func (c GroupSyncConfiguration) validate() error {
	switch c.SnapshotStore {
	case "memory":
	case "postgres":
		if c.DSN == "" {
			return errors.New("GROUPSYNC_DSN is required for the postgres snapshot store")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required for the gcs snapshot store")
		}
	default:
		return fmt.Errorf("unknown SNAPSHOT_STORE %q", c.SnapshotStore)
	}
	if c.PageSize == 0 || c.CrawlParallelism <= 0 || c.ApplyBatchSize <= 0 || c.ChunkSize <= 0 || c.TransferWorkers <= 0 {
		return errors.New("page size, parallelism, batch size, chunk size and transfer workers must be positive")
	}
	return nil
}

func stringOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// reader keeps the first parse error so callers check once.
type reader struct {
	err error
}

func (r *reader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("failed to parse %s as integer: %w", key, err)
		return fallback
	}
	return n
}

func (r *reader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("failed to parse %s as number: %w", key, err)
		return fallback
	}
	return f
}

func (r *reader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" || r.err != nil {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("failed to parse %s as duration: %w", key, err)
		return fallback
	}
	return d
}
