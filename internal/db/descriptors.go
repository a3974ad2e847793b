package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/descriptor"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

var _ retrieval.DescriptorStore = (*DB)(nil)

// SaveDescriptor records the shape row and its descriptor in one
// transaction, replacing any descriptor stored for the shape before.
func (db *DB) SaveDescriptor(ctx context.Context, configHash string, e catalog.Entry, d descriptor.Descriptor) error {
	scalars, err := json.Marshal(d.Scalars)
	if err != nil {
		return fmt.Errorf("encode scalars: %w", err)
	}
	histograms, err := json.Marshal(d.Histograms)
	if err != nil {
		return fmt.Errorf("encode histograms: %w", err)
	}
	rec := ShapeRecordFromEntry(e,
		int(d.Scalars[descriptor.InfoVertexCount]),
		int(d.Scalars[descriptor.InfoFaceCount]))
	now := db.clock.Now()

	return retryOnBusy(db.clock, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := upsertShape(ctx, tx, rec, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO descriptors (shape_id, config_hash, scalars_json, histograms_json, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(shape_id) DO UPDATE SET
				config_hash = excluded.config_hash,
				scalars_json = excluded.scalars_json,
				histograms_json = excluded.histograms_json,
				created_at = excluded.created_at`,
			e.ID, configHash, string(scalars), string(histograms), now.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("save descriptor %s: %w", e.ID, err)
		}
		return tx.Commit()
	})
}

// LoadDescriptors returns every descriptor computed with configHash,
// ordered by shape ID.
func (db *DB) LoadDescriptors(ctx context.Context, configHash string) ([]descriptor.Descriptor, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT d.shape_id, s.category, d.scalars_json, d.histograms_json
		FROM descriptors d
		JOIN shapes s ON s.shape_id = d.shape_id
		WHERE d.config_hash = ?
		ORDER BY d.shape_id`, configHash)
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var out []descriptor.Descriptor
	for rows.Next() {
		var d descriptor.Descriptor
		var scalars, histograms string
		if err := rows.Scan(&d.ShapeID, &d.Category, &scalars, &histograms); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		if err := json.Unmarshal([]byte(scalars), &d.Scalars); err != nil {
			return nil, fmt.Errorf("decode scalars of %s: %w", d.ShapeID, err)
		}
		if err := json.Unmarshal([]byte(histograms), &d.Histograms); err != nil {
			return nil, fmt.Errorf("decode histograms of %s: %w", d.ShapeID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDescriptor returns the stored descriptor of one shape and the config
// hash it was computed with.
func (db *DB) GetDescriptor(ctx context.Context, id string) (descriptor.Descriptor, string, error) {
	var d descriptor.Descriptor
	var hash, scalars, histograms string
	err := db.QueryRowContext(ctx, `
		SELECT d.shape_id, s.category, d.config_hash, d.scalars_json, d.histograms_json
		FROM descriptors d
		JOIN shapes s ON s.shape_id = d.shape_id
		WHERE d.shape_id = ?`, id).Scan(&d.ShapeID, &d.Category, &hash, &scalars, &histograms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, "", fmt.Errorf("descriptor %s: %w", id, ErrNotFound)
		}
		return d, "", fmt.Errorf("scan descriptor: %w", err)
	}
	if err := json.Unmarshal([]byte(scalars), &d.Scalars); err != nil {
		return d, "", fmt.Errorf("decode scalars of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(histograms), &d.Histograms); err != nil {
		return d, "", fmt.Errorf("decode histograms of %s: %w", id, err)
	}
	return d, hash, nil
}
