package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/db"
	"github.com/banshee-data/shape.search/internal/httputil"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

// ShapeInfo is the per-shape summary shown next to the viewer.
type ShapeInfo struct {
	ID         string             `json:"id"`
	Category   string             `json:"category"`
	Filename   string             `json:"filename"`
	SizeBytes  int64              `json:"size_bytes"`
	Vertices   int                `json:"vertices"`
	Faces      int                `json:"faces"`
	PointCloud bool               `json:"point_cloud"`
	Dimensions [3]float64         `json:"dimensions"` // bounding box extents
	Quality    string             `json:"quality"`
	Indexed    bool               `json:"indexed"`
	Scalars    map[string]float64 `json:"scalars,omitempty"`

	// Set from the database when the shape has been stored.
	IndexedAt      *time.Time `json:"indexed_at,omitempty"`
	DescriptorHash string     `json:"descriptor_hash,omitempty"`
	Stale          bool       `json:"stale,omitempty"` // stored hash differs from the live extractor
}

// MeshResponse is the geometry of one shape. Faces is empty for point
// clouds.
type MeshResponse struct {
	ID         string       `json:"id"`
	Normalized bool         `json:"normalized"`
	Vertices   [][3]float64 `json:"vertices"`
	Faces      [][3]int     `json:"faces"`
}

// QueryResponse is a ranked answer to a similarity query.
type QueryResponse struct {
	Query   string            `json:"query"`
	K       int               `json:"k"`
	Matches []retrieval.Match `json:"matches"`
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	counts := s.engine.Catalog().CategoryCounts()
	if counts == nil {
		counts = []catalog.CategoryCount{}
	}
	httputil.WriteJSONOK(w, counts)
}

func (s *Server) handleListShapes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	entries := s.engine.Catalog().Filter(r.URL.Query().Get("category"))
	if entries == nil {
		entries = []catalog.Entry{}
	}
	httputil.WriteJSONOK(w, entries)
}

// handleShapeByID dispatches /api/shapes/{category}/{filename}/{info|mesh|similar}.
// Without an action the info view is returned.
func (s *Server) handleShapeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/shapes/"), "/"), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		httputil.BadRequest(w, "expected /api/shapes/{category}/{filename}/{info|mesh|similar}")
		return
	}
	id := catalog.EntryID(parts[0], parts[1])
	action := "info"
	if len(parts) == 3 {
		action = parts[2]
	}

	switch action {
	case "info":
		s.handleShapeInfo(w, r, id)
	case "mesh":
		s.handleShapeMesh(w, r, id)
	case "similar":
		s.handleSimilar(w, r, id)
	default:
		httputil.NotFound(w, fmt.Sprintf("unknown shape action %q", action))
	}
}

func (s *Server) loadMesh(id string) (catalog.Entry, *mesh.Mesh, error) {
	cat := s.engine.Catalog()
	entry, err := cat.Get(id)
	if err != nil {
		return catalog.Entry{}, nil, err
	}
	m, err := cat.LoadMesh(entry)
	if err != nil {
		return entry, nil, err
	}
	return entry, m, nil
}

func (s *Server) handleShapeInfo(w http.ResponseWriter, r *http.Request, id string) {
	entry, m, err := s.loadMesh(id)
	if err != nil {
		writeError(w, err)
		return
	}
	size := m.Dimensions()
	info := ShapeInfo{
		ID:         entry.ID,
		Category:   entry.Category,
		Filename:   entry.Filename,
		SizeBytes:  entry.Size,
		Vertices:   len(m.Vertices),
		Faces:      len(m.Faces),
		PointCloud: m.IsPointCloud(),
		Dimensions: [3]float64{size.X, size.Y, size.Z},
		Quality:    mesh.Quality(m),
	}
	if d, err := s.engine.Descriptor(id); err == nil {
		info.Indexed = true
		info.Scalars = d.Scalars
	}
	if s.db != nil {
		s.addStoredInfo(r.Context(), &info)
	}
	httputil.WriteJSONOK(w, info)
}

// addStoredInfo fills the database-backed fields of info. Missing rows are
// not an error; the shape may not have been indexed with a store.
func (s *Server) addStoredInfo(ctx context.Context, info *ShapeInfo) {
	rec, err := s.db.GetShape(ctx, info.ID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			monitoring.Logf("shape info %s: %v", info.ID, err)
		}
		return
	}
	at := time.Unix(0, rec.IndexedAt).UTC()
	info.IndexedAt = &at

	_, hash, err := s.db.GetDescriptor(ctx, info.ID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			monitoring.Logf("shape info %s: %v", info.ID, err)
		}
		return
	}
	info.DescriptorHash = hash
	info.Stale = hash != s.engine.Extractor().ConfigHash()
}

func (s *Server) handleShapeMesh(w http.ResponseWriter, r *http.Request, id string) {
	_, m, err := s.loadMesh(id)
	if err != nil {
		writeError(w, err)
		return
	}
	normalized, _ := strconv.ParseBool(r.URL.Query().Get("normalized"))
	if normalized {
		m, _, err = mesh.Normalize(m, mesh.DefaultNormalizeOptions())
		if err != nil {
			writeError(w, err)
			return
		}
	}

	resp := MeshResponse{
		ID:         id,
		Normalized: normalized,
		Vertices:   make([][3]float64, len(m.Vertices)),
		Faces:      m.Faces,
	}
	for i, v := range m.Vertices {
		resp.Vertices[i] = [3]float64{v.X, v.Y, v.Z}
	}
	if resp.Faces == nil {
		resp.Faces = [][3]int{}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request, id string) {
	k, err := parseK(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	matches, err := s.engine.QueryByID(r.Context(), id, k)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, QueryResponse{Query: id, K: len(matches), Matches: matches})
}

// handleQuery ranks the database against an OBJ file posted as the request
// body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	k, err := parseK(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUpload)
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := mesh.ParseOBJ(bytes.NewReader(raw))
	if err != nil {
		writeError(w, err)
		return
	}

	matches, err := s.engine.QueryMesh(r.Context(), m, k)
	if err != nil {
		writeError(w, err)
		return
	}
	name := queryName(m)
	monitoring.Debugf("query %s: %d vertices, %d matches", name, len(m.Vertices), len(matches))
	httputil.WriteJSONOK(w, QueryResponse{Query: name, K: len(matches), Matches: matches})
}

// queryName labels an uploaded query mesh by its object name.
func queryName(m *mesh.Mesh) string {
	if m.Name == "" {
		return "upload"
	}
	return m.Name
}
