// Package csvfix repairs GTFS archives whose CSV members use
// non-RFC-compliant quoting. Some upstream producers emit lines with
// unbalanced quote characters that break strict CSV parsers; the repair
// pass re-balances fields heuristically and rewrites every text member
// with standard quoting.
package csvfix

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ParseFuzzy splits CSV content line by line without honoring quoted
// separators up front. Instead, a field containing an odd number of
// quote characters is merged with the following field(s) until the
// quotes balance out, then wrapping quotes are stripped.
func ParseFuzzy(content string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		rows = append(rows, parseLine(line))
	}
	return rows
}

func parseLine(line string) []string {
	var fields []string
	start := 0
	fieldStart := 0
	for {
		sep := strings.Index(line[start:], ",")
		if sep == -1 {
			fields = append(fields, stripQuotes(strings.TrimSpace(line[fieldStart:])))
			return fields
		}
		sep += start

		field := line[fieldStart:sep]
		if strings.Count(field, `"`)%2 == 0 {
			fields = append(fields, stripQuotes(strings.TrimSpace(field)))
			fieldStart = sep + 1
		}
		// Odd quote count: the separator was inside a quoted field,
		// keep scanning from the next comma with the same field start.
		start = sep + 1
	}
}

func stripQuotes(field string) string {
	if len(field) >= 2 && strings.HasPrefix(field, `"`) && strings.HasSuffix(field, `"`) {
		return field[1 : len(field)-1]
	}
	return field
}

// RepairArchive rewrites every .txt member of the zip archive at path
// through the fuzzy parser and standard CSV re-quoting, replacing the
// archive in place only when the whole rewrite succeeded.
func RepairArchive(path string) error {
	in, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".csvfix-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	out := zip.NewWriter(tmp)
	for _, member := range in.File {
		if err := repairMember(out, member); err != nil {
			out.Close()
			tmp.Close()
			return fmt.Errorf("rewriting %s: %w", member.Name, err)
		}
	}
	if err := out.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func repairMember(out *zip.Writer, member *zip.File) error {
	r, err := member.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := out.Create(member.Name)
	if err != nil {
		return err
	}

	if !strings.HasSuffix(member.Name, ".txt") {
		_, err := io.Copy(w, r)
		return err
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	for _, row := range ParseFuzzy(string(content)) {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
