package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/shape.search/internal/descriptor"
	"github.com/banshee-data/shape.search/internal/fsutil"
)

// ExportCSV writes one row per descriptor: shape_id, category and the
// flattened feature vector. Column names come from the first descriptor and
// every row must have the same width.
func ExportCSV(w io.Writer, ds []descriptor.Descriptor) error {
	if len(ds) == 0 {
		return ErrNoDescriptors
	}
	features := ds[0].FeatureNames()
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"shape_id", "category"}, features...)); err != nil {
		return err
	}

	row := make([]string, 2+len(features))
	for _, d := range ds {
		vec := d.Vector()
		if len(vec) != len(features) {
			return fmt.Errorf("descriptor %s has %d features, want %d", d.ShapeID, len(vec), len(features))
		}
		row[0], row[1] = d.ShapeID, d.Category
		for i, v := range vec {
			row[2+i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCSVFile writes ExportCSV output to file, creating its directory.
func ExportCSVFile(fsys fsutil.FileSystem, file string, ds []descriptor.Descriptor) error {
	if dir := filepath.Dir(file); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := fsys.Create(file)
	if err != nil {
		return err
	}
	if err := ExportCSV(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
