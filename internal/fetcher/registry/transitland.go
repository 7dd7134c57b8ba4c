package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// atlasFeed is one entry of a Transitland Atlas snapshot document.
type atlasFeed struct {
	ID   string `json:"id"`
	URLs struct {
		StaticCurrent            string `json:"static_current"`
		RealtimeTripUpdates      string `json:"realtime_trip_updates"`
		RealtimeVehiclePositions string `json:"realtime_vehicle_positions"`
		RealtimeAlerts           string `json:"realtime_alerts"`
		GBFSAutoDiscovery        string `json:"gbfs_auto_discovery"`
	} `json:"urls"`
	License *struct {
		SPDXIdentifier string `json:"spdx_identifier"`
		URL            string `json:"url"`
	} `json:"license"`
	Authorization *struct {
		Type      string `json:"type"`
		ParamName string `json:"param_name"`
		InfoURL   string `json:"info_url"`
	} `json:"authorization"`
}

// Atlas is an id-indexed snapshot of the Transitland Atlas registry.
// It is read-only after load and safe to share across sources.
type Atlas struct {
	byID map[string]*atlasFeed
	log  logger.Logger
}

// LoadAtlas reads all feed documents below dir (the feeds/ directory of
// a transitland-atlas checkout) into memory.
func LoadAtlas(dir string, log logger.Logger) (*Atlas, error) {
	atlas := &Atlas{byID: map[string]*atlasFeed{}, log: log}

	entries, err := os.ReadDir(filepath.Join(dir, "feeds"))
	if err != nil {
		return nil, fmt.Errorf("reading transitland atlas snapshot: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, "feeds", entry.Name()))
		if err != nil {
			return nil, err
		}

		var doc struct {
			Feeds []*atlasFeed `json:"feeds"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing atlas document %s: %w", entry.Name(), err)
		}
		for _, feed := range doc.Feeds {
			atlas.byID[feed.ID] = feed
		}
	}

	log.Debug("Transitland atlas loaded", "feeds", len(atlas.byID))
	return atlas, nil
}

// Resolve turns a declared Transitland source into a fetchable source.
// A (nil, nil) return means the entry is absent or cannot be represented;
// the caller must skip the source rather than fail the run.
//
// When an entry exposes several capabilities only the highest-priority
// one is used (static schedule before realtime before GBFS). Operators
// wanting both declare the same atlas id twice.
func (a *Atlas) Resolve(src *models.TransitlandSource) (models.Source, error) {
	feed, ok := a.byID[src.TransitlandAtlasID]
	if !ok {
		a.log.Warn("Transitland atlas id not found, skipping source",
			"id", src.TransitlandAtlasID, "source", src.Name)
		return nil, nil
	}

	var resolved models.Source
	switch {
	case feed.URLs.StaticCurrent != "":
		httpSrc := &models.HTTPSource{
			SourceBase:  src.SourceBase,
			URL:         feed.URLs.StaticCurrent,
			URLOverride: src.URLOverride,
			Options:     src.Options,
		}
		if httpSrc.Spec == "" {
			httpSrc.Spec = models.SpecGTFS
		}
		if !a.applyAuthorization(feed, src, httpSrc) {
			return nil, nil
		}
		resolved = httpSrc
	case feed.URLs.RealtimeTripUpdates != "":
		resolved = a.urlSource(src, feed.URLs.RealtimeTripUpdates, models.SpecGTFSRT)
	case feed.URLs.RealtimeVehiclePositions != "":
		resolved = a.urlSource(src, feed.URLs.RealtimeVehiclePositions, models.SpecGTFSRT)
	case feed.URLs.RealtimeAlerts != "":
		resolved = a.urlSource(src, feed.URLs.RealtimeAlerts, models.SpecGTFSRT)
	case feed.URLs.GBFSAutoDiscovery != "":
		resolved = a.urlSource(src, feed.URLs.GBFSAutoDiscovery, models.SpecGBFS)
	default:
		a.log.Warn("Transitland atlas entry has no usable URL, skipping source",
			"id", src.TransitlandAtlasID, "source", src.Name)
		return nil, nil
	}

	applyRegistryLicense(resolved.Base(), src.License, registryLicense(feed))
	return resolved, nil
}

func (a *Atlas) urlSource(src *models.TransitlandSource, url, spec string) *models.URLSource {
	res := &models.URLSource{SourceBase: src.SourceBase, URL: url}
	res.Spec = spec
	return res
}

// applyAuthorization maps the registry's authorization scheme onto the
// resolved source. Schemes that need material the declarer did not
// provide make the source unresolvable, reported as false.
func (a *Atlas) applyAuthorization(feed *atlasFeed, src *models.TransitlandSource, http *models.HTTPSource) bool {
	auth := feed.Authorization
	if auth == nil {
		return true
	}

	switch auth.Type {
	case "header":
		if src.APIKey == "" {
			a.log.Warn("Feed requires a header API key but none is configured, skipping source",
				"id", src.TransitlandAtlasID, "info_url", auth.InfoURL)
			return false
		}
		if http.Options.Headers == nil {
			http.Options.Headers = map[string]string{}
		}
		http.Options.Headers[auth.ParamName] = src.APIKey
	case "basic_auth":
		if src.APIKey == "" {
			a.log.Warn("Feed requires basic auth credentials but none are configured, skipping source",
				"id", src.TransitlandAtlasID, "info_url", auth.InfoURL)
			return false
		}
		if http.Options.Headers == nil {
			http.Options.Headers = map[string]string{}
		}
		http.Options.Headers["Authorization"] =
			"Basic " + base64.StdEncoding.EncodeToString([]byte(src.APIKey))
	case "query_param", "replace_url":
		// The declarer has to supply a complete URL carrying the secret.
		if src.URLOverride == "" {
			a.log.Warn("Feed requires an authorized URL but no url-override is declared, skipping source",
				"id", src.TransitlandAtlasID, "scheme", auth.Type)
			return false
		}
		http.URL = src.URLOverride
		http.URLOverride = ""
	default:
		a.log.Warn("Unknown authorization scheme, skipping source",
			"id", src.TransitlandAtlasID, "scheme", auth.Type)
		return false
	}
	return true
}

func registryLicense(feed *atlasFeed) *models.License {
	if feed.License == nil {
		return nil
	}
	return &models.License{
		SPDXIdentifier: feed.License.SPDXIdentifier,
		URL:            feed.License.URL,
	}
}

// applyRegistryLicense layers registry license metadata under any
// explicit license on the declared source.
func applyRegistryLicense(base *models.SourceBase, declared, registry *models.License) {
	if registry == nil {
		return
	}
	if declared == nil {
		base.License = registry
		return
	}
	merged := *registry
	if declared.SPDXIdentifier != "" {
		merged.SPDXIdentifier = declared.SPDXIdentifier
	}
	if declared.URL != "" {
		merged.URL = declared.URL
	}
	base.License = &merged
}
