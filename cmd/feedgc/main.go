// feedgc deletes downloaded and published archives that are no longer
// referenced by any region document.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/gc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	log := logger.New(logger.ParseLogLevel(cfg.Logging.Level), logger.ConsoleWriter())

	orphans, err := gc.Plan(cfg.Fetch.FeedsDir, cfg.Fetch.OutDir)
	if err != nil {
		log.Fatal("Failed to scan for unreferenced archives", "error", err)
	}
	if len(orphans) == 0 {
		return
	}

	// On an interactive terminal, give the operator a chance to cancel.
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println("The following files will be deleted in 5 seconds, press Ctrl+C to cancel.")
		fmt.Println(orphans)
		time.Sleep(5 * time.Second)
	}

	gc.Collect(orphans, cfg.Fetch.OutDir, cfg.Fetch.DownloadDir, log)
}
