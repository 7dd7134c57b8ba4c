package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jszwec/csvutil"

	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// mdbFeed is one row of the Mobility Database CSV export. Ids are kept
// as strings because the export contains non-feed rows with empty ids.
type mdbFeed struct {
	ID             string `csv:"mdb_source_id"`
	DataType       string `csv:"data_type"`
	DirectDownload string `csv:"urls.direct_download"`
	LatestURL      string `csv:"urls.latest"`
	License        string `csv:"license"`
	CountryCode    string `csv:"location.country_code"`
}

// Database is an id-indexed snapshot of the Mobility Database CSV
// export. The export is downloaded once and cached on disk with no
// freshness check; operators delete the cache file to refresh it.
type Database struct {
	csvPath     string
	downloadURL string
	log         logger.Logger

	once sync.Once
	byID map[int64]*mdbFeed
	err  error
}

// OpenDatabase prepares a lazily-loaded handle on the snapshot. Nothing
// is read or downloaded until the first Resolve call.
func OpenDatabase(csvPath, downloadURL string, log logger.Logger) *Database {
	return &Database{
		csvPath:     csvPath,
		downloadURL: downloadURL,
		log:         log,
		byID:        map[int64]*mdbFeed{},
	}
}

func (d *Database) load() error {
	d.once.Do(func() { d.err = d.loadLocked() })
	return d.err
}

func (d *Database) loadLocked() error {
	if _, err := os.Stat(d.csvPath); os.IsNotExist(err) {
		if err := d.downloadSnapshot(); err != nil {
			return err
		}
	}

	f, err := os.Open(d.csvPath)
	if err != nil {
		return fmt.Errorf("opening mobility database export: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return fmt.Errorf("reading mobility database export header: %w", err)
	}

	for {
		var feed mdbFeed
		if err := dec.Decode(&feed); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("parsing mobility database export: %w", err)
		}
		id, err := strconv.ParseInt(feed.ID, 10, 64)
		if err != nil {
			continue
		}
		row := feed
		d.byID[id] = &row
	}

	d.log.Debug("Mobility database export loaded", "feeds", len(d.byID))
	return nil
}

func (d *Database) downloadSnapshot() error {
	d.log.Info("Caching mobility database export", "path", d.csvPath)

	resp, err := http.Get(d.downloadURL)
	if err != nil {
		return fmt.Errorf("downloading mobility database export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading mobility database export: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.csvPath), ".mdb-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing mobility database export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.csvPath)
}

// Resolve turns a declared Mobility Database source into a fetchable
// source. A (nil, nil) return means the id is unknown or the entry's
// data type cannot be represented; the caller must skip the source.
func (d *Database) Resolve(src *models.MobilityDatabaseSource) (models.Source, error) {
	if err := d.load(); err != nil {
		return nil, err
	}

	feed, ok := d.byID[src.MDBID]
	if !ok {
		d.log.Warn("Mobility database id not found, skipping source; "+
			"delete the cached export if the feed was added recently",
			"id", src.MDBID, "source", src.Name)
		return nil, nil
	}

	var resolved models.Source
	switch feed.DataType {
	case "gtfs":
		httpSrc := &models.HTTPSource{
			SourceBase:  src.SourceBase,
			URL:         feed.DirectDownload,
			URLOverride: src.URLOverride,
			CacheURL:    feed.LatestURL,
			Options:     src.Options,
		}
		if httpSrc.Spec == "" {
			httpSrc.Spec = models.SpecGTFS
		}
		resolved = httpSrc
	case "gtfs-rt":
		urlSrc := &models.URLSource{SourceBase: src.SourceBase, URL: feed.DirectDownload}
		urlSrc.Spec = models.SpecGTFSRT
		resolved = urlSrc
	default:
		d.log.Warn("Mobility database entry has unsupported data type, skipping source",
			"id", src.MDBID, "data_type", feed.DataType)
		return nil, nil
	}

	var registry *models.License
	if feed.License != "" {
		registry = &models.License{URL: feed.License}
	}
	applyRegistryLicense(resolved.Base(), src.License, registry)
	return resolved, nil
}
