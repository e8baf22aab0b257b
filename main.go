package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xasdb/api"
	"xasdb/blob/filesystemBlob"
	"xasdb/blob/memoryBlob"
	"xasdb/blob/s3"
	"xasdb/config"
	"xasdb/orm"
	"xasdb/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())

	db, err := orm.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	blobs := initializeBlobStore(cfg)

	server := service.NewServer(db, blobs)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("archive listening")
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func initializeBlobStore(cfg *config.AppConfig) service.BlobStore {
	switch cfg.Blob.Type {
	case "filesystem":
		return initFilesystemBlobs(cfg.Blob.Dir)
	case "s3":
		return initS3Blobs(cfg.Blob.S3)
	case "memory":
		log.Warn().Msg("memory blob store selected, uploads will not survive a restart")

		return memoryBlob.New()
	default:
		log.Warn().Msgf("unknown blob store type '%s', defaulting to filesystem", cfg.Blob.Type)

		return initFilesystemBlobs(cfg.Blob.Dir)
	}
}

func initFilesystemBlobs(dir string) service.BlobStore {
	blobs, err := filesystemBlob.New(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize filesystem blob store")
	}
	log.Info().
		Str("blob_dir", dir).
		Msg("filesystem blob store initialized")

	return blobs
}

func initS3Blobs(cfg config.S3) service.BlobStore {
	blobs, err := s3.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize s3 blob store")
	}
	log.Info().Msg("s3 blob store initialized")

	return blobs
}
