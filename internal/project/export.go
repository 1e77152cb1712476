// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package project

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

const (
	csvDirName      = "csv_files"
	mergedCSVName   = "merged_analyst_tools.csv"
	checkpointInfix = "_-checkpoint-_"
)

// FreezeToolTracker flattens a tracker into a CSV file, unhides it, and
// records the CSV path on the analyst. The tracker is frozen from the
// caller's perspective; no further updates are expected.
func (m *Manager) FreezeToolTracker(ctx context.Context, analyst string, ref types.ToolTrackerRef) (string, error) {
	data, err := m.ToolTracker(ctx, ref)
	if err != nil {
		return "", err
	}

	rows := make([]map[string]string, 0, len(data))
	ids := make([]string, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		row := flattenRecord(data[id])
		row["id"] = shortPaperID(id)
		rows = append(rows, row)
	}

	csvPath := filepath.Join(m.dir, csvDirName, ref.ToolName+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", err
	}

	err = m.mutateAnalysts(ctx, func(analysts map[string]types.AnalystRecord) error {
		record, ok := analysts[analyst]
		if !ok {
			return fmt.Errorf("analyst %s: %w", analyst, types.ErrAnalystNotFound)
		}
		for i := range record.Tools {
			if record.Tools[i].ToolName == ref.ToolName {
				record.Tools[i].CSVPath = csvPath
				record.Tools[i].Hidden = false
			}
		}
		analysts[analyst] = record
		return nil
	})
	if err != nil {
		return "", err
	}
	return csvPath, nil
}

// MergeTrackers joins every analyst's frozen trackers on paper id into
// one project-wide CSV. Column names colliding across analysts get the
// analyst name appended, and the tracker name too when still ambiguous.
func (m *Manager) MergeTrackers(ctx context.Context) (string, error) {
	outPath := filepath.Join(m.dir, mergedCSVName)
	analysts, err := m.Analysts(ctx)
	if err != nil {
		return "", err
	}

	type source struct {
		analyst string
		tool    string
		rows    map[string]map[string]string
		columns []string
	}
	var sources []source
	for _, record := range analysts {
		for _, ref := range record.Tools {
			if ref.CSVPath == "" {
				continue
			}
			data, err := m.ToolTracker(ctx, ref)
			if err != nil {
				return "", err
			}
			src := source{analyst: record.Name, tool: ref.ToolName, rows: map[string]map[string]string{}}
			seen := map[string]bool{}
			for id, rec := range data {
				row := flattenRecord(rec)
				src.rows[shortPaperID(id)] = row
				for col := range row {
					if !seen[col] {
						seen[col] = true
						src.columns = append(src.columns, col)
					}
				}
			}
			sort.Strings(src.columns)
			sources = append(sources, src)
		}
	}

	if len(sources) == 0 {
		note := "No analysts have extracted data yet. Once they do, the " +
			"results are combined here."
		if err := writeCSV(outPath, []map[string]string{{"Notes": note}}); err != nil {
			return "", err
		}
		return outPath, nil
	}

	// Count column collisions across sources to pick unambiguous names.
	colCount := map[string]int{}
	for _, src := range sources {
		for _, col := range src.columns {
			colCount[col]++
		}
	}
	rename := func(src source, col string) string {
		if colCount[col] <= 1 {
			return col
		}
		return col + "_" + src.analyst + "_" + src.tool
	}

	merged := map[string]map[string]string{}
	var ids []string
	for _, src := range sources {
		for id, row := range src.rows {
			if _, ok := merged[id]; !ok {
				merged[id] = map[string]string{}
				ids = append(ids, id)
			}
			for col, val := range row {
				merged[id][rename(src, col)] = val
			}
		}
	}
	sort.Strings(ids)

	rows := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		row := merged[id]
		row["id"] = id
		rows = append(rows, row)
	}
	if err := writeCSV(outPath, rows); err != nil {
		return "", err
	}
	return outPath, nil
}

// SaveCheckpoint copies the project directory to a timestamped sibling,
// replacing any previous checkpoint.
func (m *Manager) SaveCheckpoint(ctx context.Context) (string, error) {
	stamp, err := m.store.UpdateStamp(ctx)
	if err != nil {
		return "", err
	}
	parent := filepath.Dir(m.dir)
	previous, err := m.LastCheckpoint()
	if err != nil {
		return "", err
	}
	name := m.name + checkpointInfix + strings.NewReplacer(":", "_", " ", "_").Replace(stamp)
	target := filepath.Join(parent, name)
	if err := copyTree(m.dir, target); err != nil {
		return "", fmt.Errorf("saving checkpoint: %w", err)
	}
	if previous != "" && previous != target {
		if err := os.RemoveAll(previous); err != nil {
			return "", fmt.Errorf("removing previous checkpoint: %w", err)
		}
	}
	m.log.Info().Str("checkpoint", name).Msg("saved checkpoint")
	return target, nil
}

// LastCheckpoint returns the path of the project's newest checkpoint,
// empty when none exists.
func (m *Manager) LastCheckpoint() (string, error) {
	parent := filepath.Dir(m.dir)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", fmt.Errorf("listing checkpoints: %w", err)
	}
	var found string
	prefix := m.name + checkpointInfix
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			found = filepath.Join(parent, entry.Name())
		}
	}
	return found, nil
}

// ExportArchive zips the project directory to w, excluding the live
// SQLite side files so the archive opens cleanly elsewhere.
func (m *Manager) ExportArchive(w io.Writer) error {
	zw := zip.NewWriter(w)
	err := filepath.Walk(m.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if strings.HasSuffix(path, "-wal") || strings.HasSuffix(path, "-shm") {
			return nil
		}
		rel, err := filepath.Rel(m.dir, path)
		if err != nil {
			return err
		}
		f, err := zw.Create(filepath.ToSlash(filepath.Join(m.name, rel)))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(f, in)
		return err
	})
	if err != nil {
		return fmt.Errorf("exporting archive: %w", err)
	}
	return zw.Close()
}

// flattenRecord flattens nested maps with dotted keys and renders every
// leaf as a CSV cell.
func flattenRecord(record map[string]any) map[string]string {
	out := map[string]string{}
	var walk func(prefix string, value any)
	walk = func(prefix string, value any) {
		switch v := value.(type) {
		case map[string]any:
			for k, inner := range v {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, inner)
			}
		case string:
			out[prefix] = v
		case bool:
			out[prefix] = strconv.FormatBool(v)
		case float64:
			out[prefix] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
			out[prefix] = ""
		default:
			raw, _ := json.Marshal(v)
			out[prefix] = string(raw)
		}
	}
	walk("", record)
	delete(out, "")
	return out
}

func shortPaperID(id string) string {
	if len(id) < 10 {
		return id
	}
	return id[:10]
}

// writeCSV writes rows with a sorted column union, id first when present.
func writeCSV(path string, rows []map[string]string) error {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	if seen["id"] {
		rest := make([]string, 0, len(columns)-1)
		for _, col := range columns {
			if col != "id" {
				rest = append(rest, col)
			}
		}
		columns = append([]string{"id"}, rest...)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating csv directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = row[col]
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return f.Close()
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target)
	})
}
