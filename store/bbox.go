// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
)

// BoundingBox returns the bounding box of every cached band, memoized
// for the lifetime of the Store once it has been computed successfully.
// The memoization is deliberately process-lifetime: the
// cache only grows over a batch run, so a bbox computed early remains a
// valid (if conservative) answer until the next process restart.
// Returns isochrone.ErrCacheMiss if no bands have been computed yet;
// that outcome is never memoized, so later calls keep retrying until
// the first bands land.
func (s *Store) BoundingBox(ctx context.Context) (*BBox, error) {
	if box := s.bbox.Load(); box != nil {
		return box, nil
	}
	box, err := s.computeBoundingBox(ctx)
	if err != nil {
		return nil, err
	}
	s.bbox.Store(box)
	return box, nil
}

func (s *Store) computeBoundingBox(ctx context.Context) (*BBox, error) {
	query := fmt.Sprintf(`
SELECT MIN(ST_YMin(geometry_unclipped)), MAX(ST_YMax(geometry_unclipped)),
       MIN(ST_XMin(geometry_unclipped)), MAX(ST_XMax(geometry_unclipped))
FROM %s`, bandsTable)

	var minLat, maxLat, minLng, maxLng sql.NullFloat64
	err := withTx(s.db, true, func(tx *sql.Tx) error {
		row := tx.QueryRow(query)
		return row.Scan(&minLat, &maxLat, &minLng, &maxLng)
	})
	if err != nil {
		return nil, fmt.Errorf("store: bounding box: %w", err)
	}
	if !minLat.Valid {
		return nil, isochrone.ErrCacheMiss
	}
	return &BBox{MinLat: minLat.Float64, MaxLat: maxLat.Float64, MinLng: minLng.Float64, MaxLng: maxLng.Float64}, nil
}
