package main

import (
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/lib/logger"
)

var log, _ = logger.New("blobserver")

type Config struct {
	Server struct {
		Host string `envconfig:"BLOBSERVER_HOST" default:"0.0.0.0"`
		Port int    `envconfig:"BLOBSERVER_PORT" default:"2503"`
	}
	Blobs struct {
		Path    string `envconfig:"BLOBSERVER_PATH" default:"blobs"`
		MaxSize int64  `envconfig:"BLOBSERVER_MAX_BLOB_SIZE" default:"10485760"`
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

func main() {
	if err := run(); err != nil {
		log.Fatalw("startup", "error", err)
	}
}

func run() error {
	cfg, err := GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	store, err := blob.NewDiskStore(cfg.Blobs.Path, cfg.Blobs.MaxSize)
	if err != nil {
		log.Errorw("startup", "error", "failed to open blob store")
		return err
	}

	blobAPI := NewBlobAPI(store)
	if err := rpc.RegisterName("BlobAPI", blobAPI); err != nil {
		return err
	}
	rpc.HandleHTTP()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	listenAddr := l.Addr().String()

	log.Infow("startup", "status", "blobserver rpc server started", "address", listenAddr, "path", cfg.Blobs.Path)
	defer log.Infow("shutdown", "status", "blobserver rpc server stopped", "address", listenAddr)
	go http.Serve(l, nil)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "blobserver rpc server stopping", "address", listenAddr)

	return nil
}
