package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/shape.search/internal/catalog"
)

// ShapeRecord is one row of the shapes table.
type ShapeRecord struct {
	ShapeID     string `json:"shape_id"`
	Category    string `json:"category"`
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	VertexCount int    `json:"vertex_count"`
	FaceCount   int    `json:"face_count"`
	IndexedAt   int64  `json:"indexed_at"` // unix nanoseconds
}

// ShapeRecordFromEntry builds a record for a catalog entry.
func ShapeRecordFromEntry(e catalog.Entry, vertices, faces int) ShapeRecord {
	return ShapeRecord{
		ShapeID:     e.ID,
		Category:    e.Category,
		Filename:    e.Filename,
		Path:        e.Path,
		SizeBytes:   e.Size,
		VertexCount: vertices,
		FaceCount:   faces,
	}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertShape inserts or replaces a shape row. IndexedAt defaults to now.
func (db *DB) UpsertShape(ctx context.Context, s ShapeRecord) error {
	return retryOnBusy(db.clock, func() error {
		return upsertShape(ctx, db.DB, s, db.clock.Now())
	})
}

func upsertShape(ctx context.Context, ex execer, s ShapeRecord, now time.Time) error {
	if s.IndexedAt == 0 {
		s.IndexedAt = now.UnixNano()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO shapes (
			shape_id, category, filename, path, size_bytes, vertex_count, face_count, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shape_id) DO UPDATE SET
			category = excluded.category,
			filename = excluded.filename,
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			vertex_count = excluded.vertex_count,
			face_count = excluded.face_count,
			indexed_at = excluded.indexed_at`,
		s.ShapeID, s.Category, s.Filename, s.Path, s.SizeBytes, s.VertexCount, s.FaceCount, s.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert shape %s: %w", s.ShapeID, err)
	}
	return nil
}

const shapeColumns = `shape_id, category, filename, path, size_bytes, vertex_count, face_count, indexed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanShape(row scanner) (ShapeRecord, error) {
	var s ShapeRecord
	err := row.Scan(&s.ShapeID, &s.Category, &s.Filename, &s.Path, &s.SizeBytes, &s.VertexCount, &s.FaceCount, &s.IndexedAt)
	return s, err
}

// GetShape returns one shape by ID.
func (db *DB) GetShape(ctx context.Context, id string) (ShapeRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+shapeColumns+` FROM shapes WHERE shape_id = ?`, id)
	s, err := scanShape(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ShapeRecord{}, fmt.Errorf("shape %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ShapeRecord{}, fmt.Errorf("scan shape: %w", err)
	}
	return s, nil
}

// ListShapes returns shapes ordered by ID. An empty category or
// catalog.AllCategories lists everything.
func (db *DB) ListShapes(ctx context.Context, category string) ([]ShapeRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if category == "" || category == catalog.AllCategories {
		rows, err = db.QueryContext(ctx, `SELECT `+shapeColumns+` FROM shapes ORDER BY shape_id`)
	} else {
		rows, err = db.QueryContext(ctx, `SELECT `+shapeColumns+` FROM shapes WHERE category = ? ORDER BY shape_id`, category)
	}
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()

	var out []ShapeRecord
	for rows.Next() {
		s, err := scanShape(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shape: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteShape removes a shape and, by cascade, its descriptor.
func (db *DB) DeleteShape(ctx context.Context, id string) error {
	return retryOnBusy(db.clock, func() error {
		res, err := db.ExecContext(ctx, `DELETE FROM shapes WHERE shape_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete shape %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("shape %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// PruneShapes deletes every shape row for which keep returns false and
// returns the number of rows removed.
func (db *DB) PruneShapes(ctx context.Context, keep func(id string) bool) (int, error) {
	all, err := db.ListShapes(ctx, catalog.AllCategories)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, s := range all {
		if keep(s.ShapeID) {
			continue
		}
		if err := db.DeleteShape(ctx, s.ShapeID); err != nil && !errors.Is(err, ErrNotFound) {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
