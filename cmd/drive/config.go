package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Inventory struct {
		Path string `envconfig:"DRIVE_INVENTORY_PATH" default:"drive-data"`
	}
	Blobs struct {
		Path string `envconfig:"DRIVE_BLOB_PATH" default:"drive-blobs"`
		// ServerAddr switches the transport from local disk to a
		// remote blobserver when set.
		ServerAddr string `envconfig:"DRIVE_BLOBSERVER_ADDR"`
	}
	Download struct {
		Path string `envconfig:"DRIVE_DOWNLOAD_PATH" default:"downloads"`
	}
	ResolveTimeout time.Duration `envconfig:"DRIVE_RESOLVE_TIMEOUT" default:"5m"`
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
