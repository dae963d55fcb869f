package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"text/tabwriter"
)

// renderCSV parses the full file and renders it as an aligned text
// table. Ragged or malformed rows fail the parse and surface through the
// ingestor's error text.
func renderCSV(data []byte) (string, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return "", fmt.Errorf("invalid CSV: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("CSV file is empty")
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for _, record := range records {
		fmt.Fprintln(tw, strings.Join(record, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
