package registry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedfetch-data/pkg/feeds/models"
)

const mdbExport = `mdb_source_id,data_type,location.country_code,urls.direct_download,urls.latest,license
10,gtfs,DE,https://example.com/direct.zip,https://example.com/latest.zip,https://example.com/license
11,gtfs-rt,DE,https://example.com/rt,,
12,gbfs,DE,https://example.com/gbfs.json,,
`

func writeDatabase(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mobilitydatabase.csv")
	require.NoError(t, os.WriteFile(path, []byte(mdbExport), 0644))
	return OpenDatabase(path, "http://invalid.invalid/", testLogger())
}

func TestDatabaseResolvesGTFSFeed(t *testing.T) {
	db := writeDatabase(t)

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city", DropTooFastTrips: true},
		MDBID:      10,
	})
	require.NoError(t, err)

	http, ok := resolved.(*models.HTTPSource)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/direct.zip", http.URL)
	assert.Equal(t, "https://example.com/latest.zip", http.CacheURL)
	assert.True(t, http.DropTooFastTrips)
	require.NotNil(t, http.License)
	assert.Equal(t, "https://example.com/license", http.License.URL)
}

func TestDatabaseKeepsDeclaredHTTPOptions(t *testing.T) {
	db := writeDatabase(t)

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city"},
		MDBID:      10,
		Options:    models.HTTPOptions{FetchIntervalDays: 30, IgnoreTLSErrors: true},
	})
	require.NoError(t, err)

	httpSrc, ok := resolved.(*models.HTTPSource)
	require.True(t, ok)
	assert.Equal(t, 30, httpSrc.Options.FetchIntervalDays)
	assert.True(t, httpSrc.Options.IgnoreTLSErrors)
}

func TestDatabaseResolvesRealtimeFeed(t *testing.T) {
	db := writeDatabase(t)

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city"},
		MDBID:      11,
	})
	require.NoError(t, err)

	url, ok := resolved.(*models.URLSource)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/rt", url.URL)
	assert.Equal(t, models.SpecGTFSRT, url.Spec)
}

func TestDatabaseUnknownAndUnsupportedAreUnhandled(t *testing.T) {
	db := writeDatabase(t)

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city"},
		MDBID:      999,
	})
	require.NoError(t, err)
	assert.Nil(t, resolved)

	resolved, err = db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city"},
		MDBID:      12,
	})
	require.NoError(t, err)
	assert.Nil(t, resolved, "gbfs rows of the CSV export are not representable")
}

func TestDatabaseURLOverrideWins(t *testing.T) {
	db := writeDatabase(t)

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase:  models.SourceBase{Name: "city"},
		MDBID:       10,
		URLOverride: "https://mirror.example.com/gtfs.zip",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/gtfs.zip", resolved.(*models.HTTPSource).URLOverride)
}

func TestDatabaseDownloadsMissingSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mdbExport))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "mobilitydatabase.csv")
	db := OpenDatabase(path, server.URL, testLogger())

	resolved, err := db.Resolve(&models.MobilityDatabaseSource{
		SourceBase: models.SourceBase{Name: "city"},
		MDBID:      10,
	})
	require.NoError(t, err)
	require.NotNil(t, resolved)

	// Snapshot is cached on disk for later runs.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
