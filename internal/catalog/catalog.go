// Package catalog indexes a shape database laid out as one directory per
// class, each holding Wavefront OBJ files:
//
//	Data/
//	  Cup/D00035.obj
//	  Chair/D00112.obj
//
// The class directory name is the shape's category and the ground-truth
// label for retrieval evaluation.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
)

// DefaultDataDir is the conventional name of the shape database directory.
const DefaultDataDir = "Data"

// AllCategories selects every entry in Filter.
const AllCategories = "all"

var (
	ErrDataDirNotFound = errors.New("data directory not found")
	ErrShapeNotFound   = errors.New("shape not found")
)

// Entry is one OBJ file in the database.
type Entry struct {
	ID       string `json:"id"` // "<category>/<filename>"
	Category string `json:"category"`
	Filename string `json:"filename"`
	Path     string `json:"path"` // slash-separated path inside the catalog filesystem
	Size     int64  `json:"size"`
}

// CategoryCount is the number of entries in one category.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Catalog is an immutable, sorted listing of a shape database.
type Catalog struct {
	fsys    fs.FS
	entries []Entry
	byID    map[string]int
}

// EntryID builds the identifier used for a category and filename.
func EntryID(category, filename string) string {
	return category + "/" + filename
}

// LocateDataDir looks for a directory called name in start, then in its
// parent, then its grandparent, so commands work from the repository root
// or from a subdirectory.
func LocateDataDir(start, name string) (string, error) {
	dir := start
	for i := 0; i < 3; i++ {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		dir = filepath.Dir(dir)
	}
	return "", fmt.Errorf("%w: %q under %s or its two parents", ErrDataDirNotFound, name, start)
}

// Open scans the database rooted at dir on the local filesystem.
func Open(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDataDirNotFound, dir)
	}
	return Scan(os.DirFS(dir), ".")
}

// Scan lists every *.obj file one level below root in fsys. Files directly
// under root and non-OBJ files are skipped. Entries are sorted by category
// and then filename.
func Scan(fsys fs.FS, root string) (*Catalog, error) {
	dirs, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	c := &Catalog{fsys: fsys, byID: make(map[string]int)}
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		category := d.Name()
		files, err := fs.ReadDir(fsys, path.Join(root, category))
		if err != nil {
			return nil, fmt.Errorf("read category %s: %w", category, err)
		}
		count := 0
		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(path.Ext(f.Name()), ".obj") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				monitoring.Logf("skipping %s/%s: %v", category, f.Name(), err)
				continue
			}
			c.entries = append(c.entries, Entry{
				ID:       EntryID(category, f.Name()),
				Category: category,
				Filename: f.Name(),
				Path:     path.Join(root, category, f.Name()),
				Size:     info.Size(),
			})
			count++
		}
		monitoring.Debugf("category %q: %d files", category, count)
	}

	sort.Slice(c.entries, func(i, j int) bool {
		if c.entries[i].Category != c.entries[j].Category {
			return c.entries[i].Category < c.entries[j].Category
		}
		return c.entries[i].Filename < c.entries[j].Filename
	})
	for i, e := range c.entries {
		c.byID[e.ID] = i
	}
	return c, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of all entries.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Get returns the entry with the given ID.
func (c *Catalog) Get(id string) (Entry, error) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
	}
	return c.entries[i], nil
}

// Filter returns the entries of one category. An empty category or
// AllCategories returns everything.
func (c *Catalog) Filter(category string) []Entry {
	if category == "" || category == AllCategories {
		return c.Entries()
	}
	var out []Entry
	for _, e := range c.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Categories returns the sorted distinct category names.
func (c *Catalog) Categories() []string {
	counts := c.CategoryCounts()
	names := make([]string, len(counts))
	for i, cc := range counts {
		names[i] = cc.Name
	}
	return names
}

// CategoryCounts returns entry counts per category, sorted by name.
func (c *Catalog) CategoryCounts() []CategoryCount {
	var out []CategoryCount
	for _, e := range c.entries {
		if n := len(out); n > 0 && out[n-1].Name == e.Category {
			out[n-1].Count++
			continue
		}
		out = append(out, CategoryCount{Name: e.Category, Count: 1})
	}
	return out
}

// LoadMesh parses the OBJ file of an entry.
func (c *Catalog) LoadMesh(e Entry) (*mesh.Mesh, error) {
	f, err := c.fsys.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", e.ID, err)
	}
	defer f.Close()

	m, err := mesh.ParseOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", e.ID, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(e.Filename, path.Ext(e.Filename))
	}
	return m, nil
}
