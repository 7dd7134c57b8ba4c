// Package attribution generates the license manifest for the published
// feed tree: one entry per feed with its license metadata and the
// copyright holders read from the published archive's agency table.
package attribution

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/internal/fetcher/registry"
	"github.com/feedfetch-data/pkg/feeds/models"
)

// Entry is one feed's attribution record in the manifest.
type Entry struct {
	SPDXIdentifier   string   `json:"spdx_identifier,omitempty"`
	URL              string   `json:"url,omitempty"`
	CopyrightHolders []string `json:"copyright_holders"`
	Filename         string   `json:"filename"`
}

type agencyNameRow struct {
	Name string `csv:"agency_name"`
}

// Generator walks all region documents and the published artifacts.
type Generator struct {
	atlas  *registry.Atlas
	outDir string
	log    logger.Logger
}

func NewGenerator(atlas *registry.Atlas, outDir string, log logger.Logger) *Generator {
	return &Generator{atlas: atlas, outDir: outDir, log: log}
}

// Generate collects attribution entries for every published feed of
// every region document under feedsDir. Feeds without a published
// artifact get no entry but are still listed in the returned filename
// order, which drives the licenses page.
func (g *Generator) Generate(feedsDir string) ([]Entry, []string, error) {
	regionPaths, err := filepath.Glob(filepath.Join(feedsDir, "*.json"))
	if err != nil {
		return nil, nil, err
	}

	var entries []Entry
	var filenames []string
	for _, regionPath := range regionPaths {
		region, err := models.LoadRegion(regionPath)
		if err != nil {
			return nil, nil, err
		}
		regionName := strings.TrimSuffix(filepath.Base(regionPath), ".json")

		for _, src := range region.Sources {
			entry, filename, err := g.sourceEntry(regionName, src)
			if err != nil {
				return nil, nil, err
			}
			if filename != "" {
				filenames = append(filenames, filename)
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
	}
	return entries, filenames, nil
}

func (g *Generator) sourceEntry(regionName string, src models.Source) (*Entry, string, error) {
	base := src.Base()
	spec := base.EffectiveSpec()
	if spec == models.SpecGTFSRT || spec == models.SpecGBFS {
		return nil, "", nil
	}

	if tl, ok := src.(*models.TransitlandSource); ok {
		resolved, err := g.atlas.Resolve(tl)
		if err != nil {
			return nil, "", err
		}
		if resolved == nil {
			return nil, "", nil
		}
		src = resolved
		base = src.Base()
	}

	filename := regionName + "_" + base.Name + ".gtfs.zip"
	feedPath := filepath.Join(g.outDir, filename)
	if _, err := os.Stat(feedPath); err != nil {
		g.log.Info("Published artifact does not exist, skipping", "path", feedPath)
		return nil, filename, nil
	}

	entry := Entry{Filename: filename, CopyrightHolders: []string{}}
	if base.License != nil {
		entry.SPDXIdentifier = base.License.SPDXIdentifier
		entry.URL = base.License.URL
	}

	holders, err := agencyNames(feedPath)
	if err != nil {
		return nil, filename, fmt.Errorf("reading agencies of %s: %w", filename, err)
	}
	entry.CopyrightHolders = holders
	return &entry, filename, nil
}

func agencyNames(feedPath string) ([]string, error) {
	archive, err := zip.OpenReader(feedPath)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	f, err := archive.Open("agency.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for {
		var row agencyNameRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		names = append(names, row.Name)
	}
	return names, nil
}

// WriteManifest writes the JSON attribution manifest.
func WriteManifest(path string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteMarkdown writes the licenses page. Every feed gets a filename
// heading; copyright holders are listed only for published feeds.
func WriteMarkdown(path string, filenames []string, entries []Entry) error {
	byFilename := map[string]Entry{}
	for _, entry := range entries {
		byFilename[entry.Filename] = entry
	}

	var b strings.Builder
	b.WriteString("\n# Licenses of included feeds\n\n")
	for _, filename := range filenames {
		fmt.Fprintf(&b, "## Filename: %s  \r\n", filename)
		entry, ok := byFilename[filename]
		if !ok {
			continue
		}
		b.WriteString("### Copyright holders  \r\n")
		for _, holder := range entry.CopyrightHolders {
			fmt.Fprintf(&b, " * %s  \r\n", holder)
		}
	}
	b.WriteString("\n<!--\nSPDX-FileCopyrightText: None\nSPDX-License-Identifier: CC0-1.0\n-->\n")
	return os.WriteFile(path, []byte(b.String()), 0644)
}
