// Package sqlite is the structured index of the persistence tier: one row per
// object (id, region, coordinates, payload reference) and one row per region.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/zeusync/vault/internal/core/observability/log"
)

// ObjectRow mirrors one row of the objects table.
type ObjectRow struct {
	ID         string
	RegionID   string
	Kind       string
	X, Y, Z    float64
	PayloadRef string
	PayloadSum string
	Inline     []byte
}

// RegionRow mirrors one row of the regions table.
type RegionRow struct {
	ID     string
	Key    string
	CX     float64
	CY     float64
	CZ     float64
	Radius float64
}

type RecordIndex struct {
	db     *sql.DB
	logger log.Log
}

// Open opens (or creates) the database at path and migrates it to the latest
// schema.
func Open(path string, logger log.Log) (*RecordIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record index %s: %w", path, err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	x := &RecordIndex{db: db, logger: logger.With(log.String("component", "record_index"))}
	if err = x.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}

func (x *RecordIndex) Close() error {
	return x.db.Close()
}

const objectColumns = `id, region_id, kind, x, y, z, payload_ref, payload_sum, payload_inline`

// UpsertObject inserts the row or replaces the existing row with the same id.
func (x *RecordIndex) UpsertObject(ctx context.Context, row ObjectRow) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO objects (`+objectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			region_id      = excluded.region_id,
			kind           = excluded.kind,
			x              = excluded.x,
			y              = excluded.y,
			z              = excluded.z,
			payload_ref    = excluded.payload_ref,
			payload_sum    = excluded.payload_sum,
			payload_inline = excluded.payload_inline,
			updated_at     = CURRENT_TIMESTAMP`,
		row.ID, row.RegionID, row.Kind, row.X, row.Y, row.Z,
		row.PayloadRef, row.PayloadSum, row.Inline,
	)
	if err != nil {
		return fmt.Errorf("upsert object %s: %w", row.ID, err)
	}
	return nil
}

// GetObject returns the row for id. The bool is false when no row exists.
func (x *RecordIndex) GetObject(ctx context.Context, id string) (ObjectRow, bool, error) {
	row := x.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectRow{}, false, nil
	}
	if err != nil {
		return ObjectRow{}, false, fmt.Errorf("get object %s: %w", id, err)
	}
	return obj, true, nil
}

// DeleteObject removes the region's row for id and returns its payload
// reference. The bool is false when the region holds no such row, which
// includes rows that have since moved to another region.
func (x *RecordIndex) DeleteObject(ctx context.Context, regionID, id string) (string, bool, error) {
	var ref string
	err := x.db.QueryRowContext(ctx,
		`DELETE FROM objects WHERE id = ? AND region_id = ? RETURNING payload_ref`, id, regionID,
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("delete object %s: %w", id, err)
	}
	return ref, true, nil
}

// ObjectsInRange returns the region's rows whose coordinates fall inside the
// inclusive box [min, max].
func (x *RecordIndex) ObjectsInRange(ctx context.Context, regionID string, min, max [3]float64) ([]ObjectRow, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT `+objectColumns+` FROM objects
		WHERE region_id = ?
		  AND x BETWEEN ? AND ?
		  AND y BETWEEN ? AND ?
		  AND z BETWEEN ? AND ?`,
		regionID, min[0], max[0], min[1], max[1], min[2], max[2],
	)
	if err != nil {
		return nil, fmt.Errorf("range query in region %s: %w", regionID, err)
	}
	return collectObjects(rows)
}

// ObjectsByRegion returns every row of the region.
func (x *RecordIndex) ObjectsByRegion(ctx context.Context, regionID string) ([]ObjectRow, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE region_id = ?`, regionID)
	if err != nil {
		return nil, fmt.Errorf("load region %s: %w", regionID, err)
	}
	return collectObjects(rows)
}

// CountObjects returns the number of rows stored for the region.
func (x *RecordIndex) CountObjects(ctx context.Context, regionID string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE region_id = ?`, regionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count region %s: %w", regionID, err)
	}
	return n, nil
}

// UpsertRegion stores a region descriptor.
func (x *RecordIndex) UpsertRegion(ctx context.Context, row RegionRow) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO regions (id, key, cx, cy, cz, radius)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			key    = excluded.key,
			cx     = excluded.cx,
			cy     = excluded.cy,
			cz     = excluded.cz,
			radius = excluded.radius`,
		row.ID, row.Key, row.CX, row.CY, row.CZ, row.Radius,
	)
	if err != nil {
		return fmt.Errorf("upsert region %s: %w", row.ID, err)
	}
	return nil
}

// RegionByKey looks a region up by its key.
func (x *RecordIndex) RegionByKey(ctx context.Context, key string) (RegionRow, bool, error) {
	var r RegionRow
	err := x.db.QueryRowContext(ctx,
		`SELECT id, key, cx, cy, cz, radius FROM regions WHERE key = ?`, key,
	).Scan(&r.ID, &r.Key, &r.CX, &r.CY, &r.CZ, &r.Radius)
	if errors.Is(err, sql.ErrNoRows) {
		return RegionRow{}, false, nil
	}
	if err != nil {
		return RegionRow{}, false, fmt.Errorf("lookup region key %s: %w", key, err)
	}
	return r, true, nil
}

// Regions returns every stored region ordered by creation.
func (x *RecordIndex) Regions(ctx context.Context) ([]RegionRow, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT id, key, cx, cy, cz, radius FROM regions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	defer rows.Close()

	var out []RegionRow
	for rows.Next() {
		var r RegionRow
		if err = rows.Scan(&r.ID, &r.Key, &r.CX, &r.CY, &r.CZ, &r.Radius); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObject(s scanner) (ObjectRow, error) {
	var r ObjectRow
	err := s.Scan(&r.ID, &r.RegionID, &r.Kind, &r.X, &r.Y, &r.Z, &r.PayloadRef, &r.PayloadSum, &r.Inline)
	return r, err
}

func collectObjects(rows *sql.Rows) ([]ObjectRow, error) {
	defer rows.Close()
	var out []ObjectRow
	for rows.Next() {
		r, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
