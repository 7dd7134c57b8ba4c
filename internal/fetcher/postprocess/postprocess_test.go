package postprocess

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedfetch-data/internal/common/config"
	"github.com/feedfetch-data/internal/common/logger"
	"github.com/feedfetch-data/pkg/feeds/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func day(offset int) string {
	return now.AddDate(0, 0, offset).Format("20060102")
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func validFeedFiles() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n1,Test,https://example.com,UTC\n",
	}
}

// fakeCleaner writes a shell script standing in for the cleaning tool.
func fakeCleaner(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtfstidy")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

const copyingCleaner = `#!/bin/sh
in=$1
out=
prev=
for arg in "$@"; do
	if [ "$prev" = "--output" ]; then out=$arg; fi
	prev=$arg
done
cp "$in" "$out"
`

const failingCleaner = `#!/bin/sh
echo "tool exploded" >&2
exit 1
`

func testPostprocessor(t *testing.T, cleanerScript string) *Postprocessor {
	log := logger.New(logger.ParseLogLevel("error"), os.Stderr)
	p := New(config.ToolsConfig{
		GTFSTidyPath:   fakeCleaner(t, cleanerScript),
		EmptyAgencyURL: "https://example.com/",
	}, log)
	p.now = func() time.Time { return now }
	return p
}

func TestProcessPublishesValidFeed(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "downloads", "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(rawPath), 0755))
	writeZip(t, rawPath, validFeedFiles())

	src := &models.HTTPSource{SourceBase: models.SourceBase{Name: "city"}, URL: "https://example.com/x.zip"}
	require.NoError(t, testPostprocessor(t, copyingCleaner).Process(context.Background(), src, rawPath, outPath))

	_, err := os.Stat(outPath)
	assert.NoError(t, err)
	// The raw download stays for the next conditional check.
	_, err = os.Stat(rawPath)
	assert.NoError(t, err)
}

func TestProcessToolFailureLeavesArtifactUntouched(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(outPath), 0755))
	writeZip(t, rawPath, validFeedFiles())
	require.NoError(t, os.WriteFile(outPath, []byte("previous artifact"), 0644))

	src := &models.HTTPSource{SourceBase: models.SourceBase{Name: "city"}, URL: "https://example.com/x.zip"}
	err := testPostprocessor(t, failingCleaner).Process(context.Background(), src, rawPath, outPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")

	content, rerr := os.ReadFile(outPath)
	require.NoError(t, rerr)
	assert.Equal(t, "previous artifact", string(content))
}

func TestProcessExpiredFeedFails(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(outPath), 0755))
	writeZip(t, rawPath, map[string]string{
		"agency.txt":   "agency_id,agency_name,agency_url,agency_timezone\n1,Test,https://example.com,UTC\n",
		"calendar.txt": "service_id,start_date,end_date\nwk," + day(-300) + "," + day(-1) + "\n",
	})
	require.NoError(t, os.WriteFile(outPath, []byte("previous artifact"), 0644))

	src := &models.HTTPSource{SourceBase: models.SourceBase{Name: "city"}, URL: "https://example.com/x.zip"}
	err := testPostprocessor(t, copyingCleaner).Process(context.Background(), src, rawPath, outPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	// The previously published artifact survives.
	content, rerr := os.ReadFile(outPath)
	require.NoError(t, rerr)
	assert.Equal(t, "previous artifact", string(content))
}

func TestProcessNotYetValidKeepsOldArtifactAndForcesRefetch(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(outPath), 0755))
	writeZip(t, rawPath, map[string]string{
		"agency.txt":    "agency_id,agency_name,agency_url,agency_timezone\n1,Test,https://example.com,UTC\n",
		"feed_info.txt": "feed_publisher_name,feed_start_date,feed_end_date\nPub," + day(5) + "," + day(300) + "\n",
	})
	require.NoError(t, os.WriteFile(outPath, []byte("previous artifact"), 0644))

	src := &models.HTTPSource{SourceBase: models.SourceBase{Name: "city"}, URL: "https://example.com/x.zip"}
	require.NoError(t, testPostprocessor(t, copyingCleaner).Process(context.Background(), src, rawPath, outPath))

	content, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "previous artifact", string(content), "old artifact keeps serving")

	_, err = os.Stat(rawPath)
	assert.True(t, os.IsNotExist(err), "raw download must be discarded so the next run refetches")
}

func TestProcessNotYetValidWithoutArtifactPublishes(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	writeZip(t, rawPath, map[string]string{
		"agency.txt":    "agency_id,agency_name,agency_url,agency_timezone\n1,Test,https://example.com,UTC\n",
		"feed_info.txt": "feed_publisher_name,feed_start_date,feed_end_date\nPub," + day(5) + "," + day(300) + "\n",
	})

	src := &models.HTTPSource{SourceBase: models.SourceBase{Name: "city"}, URL: "https://example.com/x.zip"}
	require.NoError(t, testPostprocessor(t, copyingCleaner).Process(context.Background(), src, rawPath, outPath))

	_, err := os.Stat(outPath)
	assert.NoError(t, err)
}

func TestProcessFlexFeedSkipsCleaner(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	writeZip(t, rawPath, validFeedFiles())

	// A cleaner that always fails proves it is never invoked for flex.
	src := &models.HTTPSource{
		SourceBase: models.SourceBase{Name: "city", Spec: models.SpecGTFSFlex},
		URL:        "https://example.com/x.zip",
	}
	require.NoError(t, testPostprocessor(t, failingCleaner).Process(context.Background(), src, rawPath, outPath))

	_, err := os.Stat(outPath)
	assert.NoError(t, err)
}

func TestProcessRepairsCSVQuotesWhenFlagged(t *testing.T) {
	dir := t.TempDir()
	rawPath := filepath.Join(dir, "r_city.gtfs.zip")
	outPath := filepath.Join(dir, "out", "r_city.gtfs.zip")
	writeZip(t, rawPath, map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n1,\"Stadtwerke \"Mitte\", GmbH\",https://example.com,UTC\n",
	})

	src := &models.HTTPSource{
		SourceBase: models.SourceBase{Name: "city", FixCSVQuotes: true, Spec: models.SpecGTFSFlex},
		URL:        "https://example.com/x.zip",
	}
	require.NoError(t, testPostprocessor(t, copyingCleaner).Process(context.Background(), src, rawPath, outPath))

	archive, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer archive.Close()
	f, err := archive.Open("agency.txt")
	require.NoError(t, err)
	defer f.Close()
}
