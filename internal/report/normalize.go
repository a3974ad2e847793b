package report

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/shape.search/internal/fsutil"
	"github.com/banshee-data/shape.search/internal/mesh"
)

// NormalizeFile reads the OBJ at in, normalises its pose and writes the
// result to out.
func NormalizeFile(fsys fsutil.FileSystem, in, out string, opts mesh.NormalizeOptions) (mesh.NormalizeReport, error) {
	r, err := fsys.Open(in)
	if err != nil {
		return mesh.NormalizeReport{}, err
	}
	m, err := mesh.ParseOBJ(r)
	r.Close()
	if err != nil {
		return mesh.NormalizeReport{}, fmt.Errorf("parse %s: %w", in, err)
	}
	if m.Name == "" {
		m.Name = filepath.Base(in)
	}

	norm, rep, err := mesh.Normalize(m, opts)
	if err != nil {
		return rep, fmt.Errorf("normalize %s: %w", in, err)
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return rep, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	w, err := fsys.Create(out)
	if err != nil {
		return rep, err
	}
	if err := mesh.WriteOBJ(w, norm); err != nil {
		w.Close()
		return rep, err
	}
	return rep, w.Close()
}
