package postprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/fetcher/csvfix"
	"github.com/feedfetch-data/internal/fetcher/validity"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// Postprocessor cleans a raw download and publishes the result. The
// published path is only ever replaced atomically on full success; any
// failure leaves the previous artifact in place.
type Postprocessor struct {
	tools config.ToolsConfig
	log   logger.Logger

	// now is a hook for tests.
	now func() time.Time
}

func New(tools config.ToolsConfig, log logger.Logger) *Postprocessor {
	return &Postprocessor{tools: tools, log: log, now: time.Now}
}

// Process stages rawPath, repairs and cleans it according to the
// source's directives, re-checks calendar validity and atomically
// promotes the result to outPath.
//
// A not-yet-valid feed with an existing published artifact keeps the
// old artifact and deletes the raw download so the next run refetches;
// an expired feed is a hard error.
func (p *Postprocessor) Process(ctx context.Context, src *models.HTTPSource, rawPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	// Staged in the output directory so the final rename stays on one
	// filesystem.
	staged, err := stageCopy(rawPath, filepath.Dir(outPath))
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	if src.FixCSVQuotes {
		p.log.Info("Repairing CSV quoting", "source", src.Name)
		if err := csvfix.RepairArchive(staged); err != nil {
			return fmt.Errorf("repairing csv quotes: %w", err)
		}
	}

	cleaned := staged
	// gtfstidy does not understand flex extensions and would destroy
	// them, so flex feeds skip the cleaning tool entirely.
	if src.EffectiveSpec() != models.SpecGTFSFlex {
		cleaned = staged + ".tidy"
		defer os.Remove(cleaned)
		if err := p.runCleaner(ctx, src, staged, cleaned); err != nil {
			return err
		}
	}

	status, err := validity.Check(cleaned, p.now())
	if err != nil {
		return fmt.Errorf("checking feed validity: %w", err)
	}

	switch status {
	case validity.Expired:
		return fmt.Errorf("feed is expired")
	case validity.NotYetValid:
		if _, err := os.Stat(outPath); err == nil {
			p.log.Info("Feed is not valid yet, keeping previous artifact and forcing a refetch next run",
				"source", src.Name)
			if err := os.Remove(rawPath); err != nil {
				return fmt.Errorf("discarding raw download: %w", err)
			}
			return nil
		}
		p.log.Warn("Feed is not valid yet and no previous artifact exists, publishing anyway",
			"source", src.Name)
	}

	if err := os.Rename(cleaned, outPath); err != nil {
		return fmt.Errorf("publishing feed: %w", err)
	}
	p.log.Info("Feed published", "source", src.Name, "path", outPath)
	return nil
}

// runCleaner invokes the external cleaning tool with a flag set derived
// from the source's directives. Nonzero exit aborts with the tool's
// combined output as error detail.
func (p *Postprocessor) runCleaner(ctx context.Context, src *models.HTTPSource, inPath, outPath string) error {
	args := []string{
		inPath,
		"--fix-zip",
		"--check-null-coords",
		"--empty-agency-url-repl", p.tools.EmptyAgencyURL,
		"--remove-red-routes",
		"--remove-red-services",
		"--remove-red-stops",
		"--remove-red-trips",
	}
	if src.Fix {
		args = append(args, "--fix")
	}
	if src.DropTooFastTrips {
		args = append(args, "--drop-too-fast-trips")
	}
	if src.DropShapes {
		args = append(args, "--drop-shapes")
	}
	for _, name := range src.DropAgencyNames {
		args = append(args, "--drop-agency-names", name)
	}
	if opts := src.DisplayNameOptions; opts != nil {
		if opts.CopyTripNamesMatching != "" {
			args = append(args, "--copy-trip-names-matching", opts.CopyTripNamesMatching)
		}
		if opts.KeepRouteNamesMatching != "" {
			args = append(args, "--keep-route-names-matching", opts.KeepRouteNamesMatching)
		}
		if opts.MoveHeadsignsMatching != "" {
			args = append(args, "--move-headsigns-matching", opts.MoveHeadsignsMatching)
		}
	}
	args = append(args, "--output", outPath)

	p.log.Info("Running cleaning tool", "source", src.Name, "tool", p.tools.GTFSTidyPath)
	cmd := exec.CommandContext(ctx, p.tools.GTFSTidyPath, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cleaning tool failed: %w: %s", err, output)
	}
	return nil
}

func stageCopy(rawPath, dir string) (string, error) {
	in, err := os.Open(rawPath)
	if err != nil {
		return "", fmt.Errorf("opening raw download: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".staging-*.gtfs.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("staging raw download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
