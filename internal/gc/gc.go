// Package gc removes published and downloaded archives that no region
// document references anymore.
package gc

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// Plan lists the archives in outDir that no region document under
// feedsDir references.
func Plan(feedsDir, outDir string) ([]string, error) {
	regionPaths, err := filepath.Glob(filepath.Join(feedsDir, "*.json"))
	if err != nil {
		return nil, err
	}

	referenced := map[string]bool{}
	for _, regionPath := range regionPaths {
		region, err := models.LoadRegion(regionPath)
		if err != nil {
			return nil, err
		}
		regionName := strings.TrimSuffix(filepath.Base(regionPath), ".json")
		for _, src := range region.Sources {
			referenced[regionName+"_"+src.Base().Name+".gtfs.zip"] = true
		}
	}

	existing, err := filepath.Glob(filepath.Join(outDir, "*.gtfs.zip"))
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, path := range existing {
		if !referenced[filepath.Base(path)] {
			orphans = append(orphans, filepath.Base(path))
		}
	}
	return orphans, nil
}

// Collect deletes the named archives from both the output and the
// downloads directory.
func Collect(orphans []string, outDir, downloadsDir string, log logger.Logger) {
	for _, name := range orphans {
		for _, path := range []string{filepath.Join(outDir, name), filepath.Join(downloadsDir, name)} {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := os.Remove(path); err != nil {
				log.Warn("Could not delete archive", "path", path, "error", err)
				continue
			}
			log.Info("Deleted unreferenced archive", "path", path)
		}
	}
}
