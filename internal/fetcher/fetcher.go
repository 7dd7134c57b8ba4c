// Package fetcher drives the per-region fetch/postprocess pipeline:
// resolve declared sources through their registries, conditionally
// download, and publish cleaned artifacts.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/fetcher/download"
	"github.com/feedfetch-data/internal/fetcher/enrich"
	"github.com/feedfetch-data/internal/fetcher/postprocess"
	"github.com/feedfetch-data/internal/fetcher/registry"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// Fetcher holds the process-wide state of one fetch invocation. The
// registry caches are read-only after load and shared across sources.
type Fetcher struct {
	cfg   *config.Config
	log   logger.Logger
	atlas *registry.Atlas
	mdb   *registry.Database
	post  *postprocess.Postprocessor
	neg   *download.Negotiator
}

func New(cfg *config.Config, log logger.Logger) (*Fetcher, error) {
	atlas, err := registry.LoadAtlas(cfg.Registry.TransitlandDir, log)
	if err != nil {
		return nil, err
	}

	return &Fetcher{
		cfg:   cfg,
		log:   log,
		atlas: atlas,
		mdb:   registry.OpenDatabase(cfg.Registry.MobilityDatabaseCSV, cfg.Registry.MobilityDatabaseURL, log),
		post:  postprocess.New(cfg.Tools, log),
		neg: download.NewNegotiator(
			cfg.Fetch.HTTPTimeout,
			cfg.Fetch.RetryCount,
			cfg.Fetch.RetryBackoff,
			cfg.Fetch.UserAgent,
			log,
		),
	}, nil
}

// FetchRegion processes every source of one region document in file
// order. Per-source failures are logged and counted without aborting
// the batch; the returned error is reserved for configuration errors
// the operator must fix.
func (f *Fetcher) FetchRegion(ctx context.Context, regionPath string) (int, error) {
	region, err := models.LoadRegion(regionPath)
	if err != nil {
		return 0, err
	}
	regionName := strings.TrimSuffix(filepath.Base(regionPath), filepath.Ext(regionPath))

	if err := validateSources(regionName, region.Sources); err != nil {
		return 0, err
	}

	failed := 0
	for _, src := range region.Sources {
		if err := f.fetchSource(ctx, regionName, src); err != nil {
			f.log.Error("Fetching source failed",
				"region", regionName, "source", src.Base().Name, "error", err)
			failed++
		}
	}
	return failed, nil
}

// validateSources rejects broken configuration before any network I/O:
// illegal name characters, names colliding after filename composition,
// and unknown enrichment hooks.
func validateSources(regionName string, sources []models.Source) error {
	seen := map[string]bool{}
	for _, src := range sources {
		name := src.Base().Name
		if strings.ContainsAny(name, " _/") {
			return fmt.Errorf("source name %q contains a space, underscore or slash; "+
				"these are reserved for derived filenames", name)
		}
		downloadName := regionName + "_" + name
		if seen[downloadName] {
			return fmt.Errorf("duplicate source name %q in region %s", name, regionName)
		}
		seen[downloadName] = true

		if fn := src.Base().Function; fn != "" {
			if _, ok := enrich.Lookup(fn); !ok {
				return fmt.Errorf("source %q references unknown function %q", name, fn)
			}
		}
	}
	return nil
}

func (f *Fetcher) fetchSource(ctx context.Context, regionName string, src models.Source) error {
	base := src.Base()

	if fn := base.Function; fn != "" {
		hook, _ := enrich.Lookup(fn)
		enriched, err := hook(src)
		if err != nil {
			return fmt.Errorf("enrichment %q: %w", fn, err)
		}
		src = enriched
		base = src.Base()
	}

	if base.Skip {
		f.log.Info("Skipping source", "region", regionName, "source", base.Name, "reason", base.SkipReason)
		return nil
	}

	resolved, err := f.resolve(src)
	if err != nil {
		return err
	}
	if resolved == nil {
		// Resolution-unhandled is a skip, not a pipeline error.
		return nil
	}
	base = resolved.Base()

	// Realtime references are recorded by downstream config generation,
	// never downloaded here.
	spec := base.EffectiveSpec()
	if spec != models.SpecGTFS && spec != models.SpecGTFSFlex {
		return nil
	}

	httpSrc, ok := resolved.(*models.HTTPSource)
	if !ok {
		return fmt.Errorf("source resolved to a non-downloadable variant with spec %q", spec)
	}

	downloadName := regionName + "_" + base.Name + ".gtfs.zip"
	destPath := filepath.Join(f.cfg.Fetch.DownloadDir, downloadName)
	outPath := filepath.Join(f.cfg.Fetch.OutDir, downloadName)

	f.log.Info("Fetching source", "region", regionName, "source", base.Name)
	res, err := f.neg.Negotiate(ctx, destPath, httpSrc)
	if err != nil {
		return err
	}

	if res.Unchanged {
		// A failed postprocess on an earlier run leaves the download in
		// place with no published artifact; retry from the download.
		if exists(outPath) || !exists(destPath) {
			f.log.Debug("Source unchanged", "region", regionName, "source", base.Name)
			return nil
		}
	} else {
		if res.ServerTime.IsZero() {
			// No server timestamp to compare against; fall back to a
			// content hash to avoid reprocessing identical bytes.
			changed, err := download.BodyChanged(destPath, res.Body)
			if err != nil {
				return err
			}
			if !changed && exists(outPath) {
				f.log.Debug("Source content unchanged", "region", regionName, "source", base.Name)
				return nil
			}
		}
		if err := download.Store(destPath, res); err != nil {
			return err
		}
	}

	return f.post.Process(ctx, httpSrc, destPath, outPath)
}

func (f *Fetcher) resolve(src models.Source) (models.Source, error) {
	switch s := src.(type) {
	case *models.TransitlandSource:
		if s.APIKey == "" {
			s.APIKey = f.cfg.Registry.TransitlandAPIKey
		}
		return f.atlas.Resolve(s)
	case *models.MobilityDatabaseSource:
		return f.mdb.Resolve(s)
	default:
		return src, nil
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
