package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionDecodesAllVariants(t *testing.T) {
	doc := `{
		"maintainers": [{"name": "jane", "github": "jane"}],
		"sources": [
			{"type": "transitland-atlas", "name": "city-a", "transitland-atlas-id": "f-abc~def", "fix": true},
			{"type": "mobility-database", "name": "city-b", "mdb-id": 123, "spec": "gtfs", "http-options": {"fetch-interval-days": 30}},
			{
				"type": "http",
				"name": "city-c",
				"url": "https://example.com/gtfs.zip",
				"fix-csv-quotes": true,
				"drop-agency-names": ["Shuttle"],
				"http-options": {"fetch-interval-days": 2, "headers": {"X-Token": "abc"}}
			},
			{"type": "url", "name": "city-d", "spec": "gtfs-rt", "url": "https://example.com/rt"}
		]
	}`

	var region Region
	require.NoError(t, json.Unmarshal([]byte(doc), &region))
	require.Len(t, region.Sources, 4)
	require.Len(t, region.Maintainers, 1)

	tl, ok := region.Sources[0].(*TransitlandSource)
	require.True(t, ok)
	assert.Equal(t, "f-abc~def", tl.TransitlandAtlasID)
	assert.True(t, tl.Fix)
	assert.Equal(t, SpecGTFS, tl.EffectiveSpec())

	mdb, ok := region.Sources[1].(*MobilityDatabaseSource)
	require.True(t, ok)
	assert.Equal(t, int64(123), mdb.MDBID)
	assert.Equal(t, 30, mdb.Options.FetchIntervalDays)

	http, ok := region.Sources[2].(*HTTPSource)
	require.True(t, ok)
	assert.True(t, http.FixCSVQuotes)
	assert.Equal(t, 2, http.Options.FetchIntervalDays)
	assert.Equal(t, "abc", http.Options.Headers["X-Token"])
	assert.Equal(t, []string{"Shuttle"}, http.DropAgencyNames)

	url, ok := region.Sources[3].(*URLSource)
	require.True(t, ok)
	assert.Equal(t, SpecGTFSRT, url.EffectiveSpec())
}

func TestRegionRejectsUnknownType(t *testing.T) {
	doc := `{"maintainers": [], "sources": [{"type": "ftp", "name": "x"}]}`

	var region Region
	err := json.Unmarshal([]byte(doc), &region)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source type "ftp"`)
}

func TestRegionRejectsMissingRequiredFields(t *testing.T) {
	doc := `{"maintainers": [], "sources": [{"type": "http", "name": "x"}]}`

	var region Region
	assert.Error(t, json.Unmarshal([]byte(doc), &region), "http source without url must not validate")
}

func TestRegionRejectsInvalidSpec(t *testing.T) {
	doc := `{"maintainers": [], "sources": [{"type": "http", "name": "x", "spec": "netex", "url": "https://example.com/x.zip"}]}`

	var region Region
	assert.Error(t, json.Unmarshal([]byte(doc), &region))
}
