package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/fetcher"
)

func main() {
	// Secrets such as registry API keys may live in a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	writers := []io.Writer{logger.ConsoleWriter()}
	if cfg.Logging.FilePath != "" {
		writers = append(writers, logger.FileWriter(cfg.Logging.FilePath))
	}
	log := logger.New(logger.ParseLogLevel(cfg.Logging.Level), writers...)

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <region.json>\n", os.Args[0])
		os.Exit(2)
	}
	regionPath := os.Args[1]

	f, err := fetcher.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize fetcher", "error", err)
	}

	failed, err := f.FetchRegion(context.Background(), regionPath)
	if err != nil {
		log.Fatal("Broken region configuration", "region", regionPath, "error", err)
	}
	if failed > 0 {
		log.Error("Some sources failed", "region", regionPath, "failed_sources", failed)
		os.Exit(1)
	}
}
