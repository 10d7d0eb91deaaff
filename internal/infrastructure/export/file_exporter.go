package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"RegScanner/internal/domain"
	"RegScanner/internal/ports"
	"RegScanner/internal/rollup"
)

const stampLayout = "20060102_150405"

var csvHeader = []string{"ID", "Title", "Source", "Impact", "Area", "URL"}

// FileExporter writes the JSON report and the CSV listing into one directory.
type FileExporter struct {
	dir    string
	logger *slog.Logger
}

var _ ports.Exporter = (*FileExporter)(nil)

// NewFileExporter targets dir, which is created on first export.
func NewFileExporter(dir string, logger *slog.Logger) *FileExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileExporter{dir: dir, logger: logger.With("component", "exporter")}
}

// Export writes impact_report_<stamp>.json and impact_analysis_<stamp>.csv,
// stamped with the report generation time in UTC.
func (e *FileExporter) Export(ctx context.Context, report rollup.Report, items []domain.Item) (ports.ExportPaths, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return ports.ExportPaths{}, fmt.Errorf("create export dir: %w", err)
	}

	stamp := report.GeneratedAt.UTC().Format(stampLayout)
	paths := ports.ExportPaths{
		JSON: filepath.Join(e.dir, "impact_report_"+stamp+".json"),
		CSV:  filepath.Join(e.dir, "impact_analysis_"+stamp+".csv"),
	}

	if err := ctx.Err(); err != nil {
		return ports.ExportPaths{}, err
	}
	if err := writeAtomic(paths.JSON, func(w io.Writer) error { return writeReport(w, report) }); err != nil {
		return ports.ExportPaths{}, fmt.Errorf("write json report: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return ports.ExportPaths{}, err
	}
	if err := writeAtomic(paths.CSV, func(w io.Writer) error { return writeCSV(w, items) }); err != nil {
		return ports.ExportPaths{}, fmt.Errorf("write csv listing: %w", err)
	}

	e.logger.Info("exported report", "json", paths.JSON, "csv", paths.CSV)
	return paths, nil
}

func writeReport(w io.Writer, report rollup.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// writeCSV lists relevant items only.
func writeCSV(w io.Writer, items []domain.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, item := range items {
		if !item.IsRelevant() {
			continue
		}
		row := []string{
			strconv.FormatInt(item.ID, 10),
			item.Title,
			string(item.Source),
			string(item.Tier()),
			string(item.BusinessArea),
			item.URL,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeAtomic writes into a temp file next to path and renames it into place.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
