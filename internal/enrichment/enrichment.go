// Package enrichment implements the seven-stage enrichment machine
// (spec.md §4.E): normalise, resolve city, geocode, DPE-match, scrape
// city prices, estimate current value, and persist. Each stage reads the
// previous stage's CSV and writes the next, addressable 1-7, mirroring
// original_source/trackimmo/modules/enrichment/*.py's processor-per-stage
// design and the teacher's handler-interface pattern
// (internal/jobs.JobHandler).
package enrichment

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
)

// Stage is one addressable enrichment step.
type Stage interface {
	// Number is this stage's 1-7 position.
	Number() int
	// Name is a short human label for logs.
	Name() string
	// Run reads inputPath and writes outputPath.
	Run(ctx context.Context, inputPath, outputPath string) error
}

// Machine runs stages 1-7 in sequence, deleting intermediate files between
// stages unless debug is set (spec §4.E: "each completed stage's
// intermediate file is deleted after the next stage succeeds").
type Machine struct {
	Stages [7]Stage
}

// Run executes stages [startStage, endStage] inclusive (1-indexed) against
// input, returning the path of the final stage's output.
func (m *Machine) Run(ctx context.Context, input string, startStage, endStage int, debug bool) (string, error) {
	if startStage < 1 || endStage > 7 || startStage > endStage {
		return "", fmt.Errorf("enrichment: invalid stage range [%d, %d]", startStage, endStage)
	}

	current := input
	for n := startStage; n <= endStage; n++ {
		stage := m.Stages[n-1]
		if stage == nil {
			return "", fmt.Errorf("enrichment: stage %d not configured", n)
		}

		out := fmt.Sprintf("%s.stage%d.csv", input, n)
		if err := stage.Run(ctx, current, out); err != nil {
			return "", fmt.Errorf("enrichment: stage %d (%s): %w", n, stage.Name(), err)
		}

		if !debug && current != input {
			os.Remove(current)
		}
		current = out
	}
	return current, nil
}

// readCSV loads a CSV into a header + row-map slice, the shared shape every
// stage reads and writes.
func readCSV(path string) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// writeCSV writes rows under the given column order, filling missing
// fields with empty strings.
func writeCSV(path string, columns []string, rows []map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(columns); err != nil {
		return err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, col := range columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}
