package audit

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Metadata identifies one report: which module produced it and when.
type Metadata struct {
	Date   time.Time `json:"date"`
	Module string    `json:"module"`
}

func NewMetadata(module string) Metadata {
	return Metadata{
		Date:   time.Now(),
		Module: module,
	}
}

// Writer persists reports under Dir, one timestamped JSON file per run.
type Writer struct {
	Fs  afero.Fs
	Dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{
		Fs:  afero.NewOsFs(),
		Dir: dir,
	}
}

// Write marshals the report and returns the file path it was written to.
func (w *Writer) Write(meta Metadata, report any) (string, error) {
	if err := w.Fs.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("report dir %s: %w", w.Dir, err)
	}
	filename := filepath.Join(w.Dir, fmt.Sprintf("audit_%s_%s.json", meta.Module, meta.Date.Format("20060102_150405")))
	content, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshal %s report: %w", meta.Module, err)
	}
	if err := afero.WriteFile(w.Fs, filename, content, 0644); err != nil {
		return "", fmt.Errorf("write report %s: %w", filename, err)
	}
	zap.L().Info("report written",
		zap.String("module", meta.Module),
		zap.String("path", filename),
	)
	return filename, nil
}
