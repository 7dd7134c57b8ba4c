// attribution writes the license manifest and a Markdown licenses page
// for all published feeds.
package main

import (
	"io"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/feedfetch-data/internal/attribution"
	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/fetcher/registry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	writers := []io.Writer{logger.ConsoleWriter()}
	log := logger.New(logger.ParseLogLevel(cfg.Logging.Level), writers...)

	atlas, err := registry.LoadAtlas(cfg.Registry.TransitlandDir, log)
	if err != nil {
		log.Fatal("Failed to load transitland atlas", "error", err)
	}

	gen := attribution.NewGenerator(atlas, cfg.Fetch.OutDir, log)
	entries, filenames, err := gen.Generate(cfg.Fetch.FeedsDir)
	if err != nil {
		log.Fatal("Failed to generate attributions", "error", err)
	}

	manifestPath := filepath.Join(cfg.Fetch.OutDir, "license.json")
	if err := attribution.WriteManifest(manifestPath, entries); err != nil {
		log.Fatal("Failed to write manifest", "path", manifestPath, "error", err)
	}
	if err := attribution.WriteMarkdown("licenses.md", filenames, entries); err != nil {
		log.Fatal("Failed to write licenses page", "error", err)
	}

	log.Info("Attribution manifest written", "path", manifestPath, "feeds", len(entries))
}
