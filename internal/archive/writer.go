package archive

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
)

// Record describes one stored bundle.
type Record struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Batch     int       `json:"batch"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer stores snapshots under a directory.
type Writer struct {
	dir     string
	element string
	now     func() time.Time
	log     *logger.Logger
}

// NewWriter returns a writer placing bundles named element+date+batch in dir.
func NewWriter(dir, element string, log *logger.Logger) *Writer {
	return &Writer{dir: dir, element: element, now: time.Now, log: logger.OrNop(log)}
}

// ID returns the next free bundle id for batch:
// <element><ddMonyy><batch:02>_<count:03>, count being the bundles already
// stored for that element, day and batch.
func (w *Writer) ID(batch int) (string, error) {
	prefix := w.element + w.now().Format("02Jan06") + fmt.Sprintf("%02d", batch)
	matches, err := filepath.Glob(filepath.Join(w.dir, prefix+"_*.zip"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%03d", prefix, len(matches)), nil
}

// Store writes snap as <id>.zip containing <id>_parameters.txt and, when
// traces are present, <id>_traces.csv and <id>.png.
func (w *Writer) Store(snap lock.Snapshot, batch int) (Record, error) {
	if batch < 0 {
		return Record{}, fmt.Errorf("batch must not be negative, got %d", batch)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create archive dir: %w", err)
	}
	id, err := w.ID(batch)
	if err != nil {
		return Record{}, err
	}
	path := filepath.Join(w.dir, id+".zip")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeBundle(f, id, snap); err != nil {
		f.Close()
		os.Remove(path)
		return Record{}, err
	}
	if err := f.Close(); err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, Path: path, Batch: batch, CreatedAt: w.now()}
	w.log.Infow("archive_stored", "id", id, "path", path)
	return rec, nil
}

func writeBundle(out io.Writer, id string, snap lock.Snapshot) error {
	zw := zip.NewWriter(out)

	pw, err := zw.Create(id + "_parameters.txt")
	if err != nil {
		return err
	}
	if err := WriteDictionary(pw, snap.Parameters()); err != nil {
		return fmt.Errorf("parameters: %w", err)
	}

	if snap.Traces != nil && len(snap.Traces.Voltages) > 0 {
		tw, err := zw.Create(id + "_traces.csv")
		if err != nil {
			return err
		}
		if err := writeTraces(tw, snap.Traces); err != nil {
			return fmt.Errorf("traces: %w", err)
		}

		img, err := RenderTraces(snap.Traces)
		if err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		iw, err := zw.Create(id + ".png")
		if err != nil {
			return err
		}
		if _, err := img.WriteTo(iw); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
	}
	return zw.Close()
}

func writeTraces(w io.Writer, t *lock.Traces) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"voltage", "cavity", "laser"}); err != nil {
		return err
	}
	for i, v := range t.Voltages {
		row := []string{format(v), "", ""}
		if i < len(t.Cavity) {
			row[1] = format(t.Cavity[i])
		}
		if i < len(t.Laser) {
			row[2] = format(t.Laser[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Bundle is the content of a stored archive.
type Bundle struct {
	Parameters map[string]any
	HasTraces  bool
	HasImage   bool
}

// Load reads the bundle at path.
func Load(path string) (Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Bundle{}, err
	}
	defer zr.Close()

	var b Bundle
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, "_parameters.txt"):
			rc, err := f.Open()
			if err != nil {
				return Bundle{}, err
			}
			b.Parameters, err = LoadDictionary(rc)
			rc.Close()
			if err != nil {
				return Bundle{}, fmt.Errorf("%s: %w", f.Name, err)
			}
		case strings.HasSuffix(f.Name, "_traces.csv"):
			b.HasTraces = true
		case strings.HasSuffix(f.Name, ".png"):
			b.HasImage = true
		}
	}
	if b.Parameters == nil {
		return Bundle{}, fmt.Errorf("%s: no parameter dictionary", path)
	}
	return b, nil
}
