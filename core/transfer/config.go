package transfer

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MaxPartSize must stay below the transport's per-blob ceiling.
	MaxPartSize   int64         `envconfig:"TRANSFER_MAX_PART_SIZE" default:"8388608"`
	StoreAttempts uint64        `envconfig:"TRANSFER_STORE_ATTEMPTS" default:"4"`
	RetryBackoff  time.Duration `envconfig:"TRANSFER_RETRY_BACKOFF" default:"250ms"`
	PartCacheSize int           `envconfig:"TRANSFER_PART_CACHE_SIZE" default:"64"`

	Sweep struct {
		Interval  time.Duration `envconfig:"TRANSFER_SWEEP_INTERVAL" default:"60s"`
		Threshold time.Duration `envconfig:"TRANSFER_SWEEP_THRESHOLD" default:"10m"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
