package variable

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/zulandar/almanac/internal/models"
)

// Row is one line of an import file. The header must name the columns
// variable and value; source_url is optional.
type Row struct {
	Variable  string `csv:"variable"`
	Value     string `csv:"value"`
	SourceURL string `csv:"source_url,omitempty"`
}

// ReadCSV decodes an import file. Rows with an invalid variable name fail
// the whole file, reporting the line.
func ReadCSV(r io.Reader) ([]Row, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("variable: csv header: %w", err)
	}
	if !hasColumns(dec.Header(), "variable", "value") {
		return nil, fmt.Errorf("variable: csv header must contain variable and value columns")
	}

	var rows []Row
	for line := 2; ; line++ {
		var row Row
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("variable: csv line %d: %w", line, err)
		}
		row.Variable = strings.TrimSpace(row.Variable)
		if !ValidName(row.Variable) {
			return nil, fmt.Errorf("variable: csv line %d: invalid variable name %q", line, row.Variable)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func hasColumns(header []string, want ...string) bool {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.TrimSpace(h)] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

// Entries turns rows into variable entries with the given source. A later
// row for the same variable wins.
func Entries(rows []Row, source string, now time.Time) map[string]models.VariableEntry {
	out := make(map[string]models.VariableEntry, len(rows))
	for _, r := range rows {
		out[r.Variable] = models.VariableEntry{
			Value:     r.Value,
			Source:    source,
			SourceURL: r.SourceURL,
			UpdatedAt: now,
		}
	}
	return out
}
