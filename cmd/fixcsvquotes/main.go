// fixcsvquotes rewrites the CSV members of a GTFS archive in place,
// repairing non-RFC-compliant quoting.
package main

import (
	"fmt"
	"os"

	"github.com/feedfetch-data/internal/fetcher/csvfix"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <archive.zip>\n", os.Args[0])
		os.Exit(2)
	}

	if err := csvfix.RepairArchive(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
