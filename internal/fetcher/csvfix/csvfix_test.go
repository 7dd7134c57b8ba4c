package csvfix

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFuzzyPlainRows(t *testing.T) {
	rows := ParseFuzzy("a,b,c\nd,e,f\n")
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", "f"}}, rows)
}

func TestParseFuzzyQuotedSeparator(t *testing.T) {
	rows := ParseFuzzy(`stop_id,stop_name
1,"Main St, Downtown"
`)
	assert.Equal(t, [][]string{
		{"stop_id", "stop_name"},
		{"1", "Main St, Downtown"},
	}, rows)
}

func TestParseFuzzyUnbalancedQuotes(t *testing.T) {
	// The second field opens a quote that never closes before the next
	// separator; the parser merges until quotes balance again.
	rows := ParseFuzzy(`1,"Platz der "Einheit", 2",x`)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0][len(rows[0])-1])
	assert.Equal(t, "1", rows[0][0])
}

func TestParseFuzzyStripsWhitespaceAndQuotes(t *testing.T) {
	rows := ParseFuzzy(`"a" , b ,"c"`)
	assert.Equal(t, [][]string{{"a", "b", "c"}}, rows)
}

func TestRepairArchiveRewritesTextMembers(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("stops.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("stop_id,stop_name\n1,\"Main St, Downtown\"\n"))
	require.NoError(t, err)
	f, err = w.Create("shapes.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	require.NoError(t, RepairArchive(path))

	archive, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer archive.Close()

	stops, err := archive.Open("stops.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(stops)
	require.NoError(t, err)
	stops.Close()
	assert.Equal(t, "stop_id,stop_name\n1,\"Main St, Downtown\"\n", string(content))

	// Non-text members pass through untouched.
	bin, err := archive.Open("shapes.bin")
	require.NoError(t, err)
	raw, err := io.ReadAll(bin)
	require.NoError(t, err)
	bin.Close()
	assert.Equal(t, []byte{0x01, 0x02}, raw)
}
