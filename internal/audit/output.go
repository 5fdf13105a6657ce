package audit

import (
	"fmt"

	"iisqa/internal/dataset"
)

// Outputs names the files a report is written to. Empty optional paths are skipped.
type Outputs struct {
	Flagged      string
	Summary      string
	Duplicates   string
	Completeness string
	MetricsTable string
}

// Write persists rep and returns the paths written, in the order above.
func (o Outputs) Write(rep Report) ([]string, error) {
	tables := []struct {
		path     string
		rows     any
		required bool
	}{
		{o.Flagged, rep.Records, true},
		{o.Summary, rep.FlagCounts, true},
		{o.Duplicates, rep.Duplicates, true},
		{o.Completeness, rep.Completeness, false},
		{o.MetricsTable, rep.Summary.Rows(), false},
	}
	var written []string
	for _, t := range tables {
		if t.path == "" {
			if t.required {
				return written, fmt.Errorf("output path missing")
			}
			continue
		}
		if err := dataset.WriteTable(t.path, t.rows); err != nil {
			return written, err
		}
		written = append(written, t.path)
	}
	return written, nil
}
