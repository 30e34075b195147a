// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
)

// BBox is an axis-aligned lat/lng bounding box.
type BBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// OriginWithStatus pairs an origin with whether it already has a
// computed 30-minute band for a given cache key.
type OriginWithStatus struct {
	Origin     isochrone.Origin
	IsComputed bool
}

// IntersectionsInViewport returns up to limit origins inside bbox for
// the given cache key, each flagged with whether it is already computed
// (has a 30-minute band row). sampleGroup, if non-nil, restricts results
// to a single quarter of the origins.
func (s *Store) IntersectionsInViewport(ctx context.Context, bbox BBox, limit int, key isochrone.CacheKey, sampleGroup *int) ([]OriginWithStatus, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	params := queryParams{}
	conditions := []string{
		fmt.Sprintf("o.lat BETWEEN %s AND %s", params.Param(bbox.MinLat), params.Param(bbox.MaxLat)),
		fmt.Sprintf("o.lng BETWEEN %s AND %s", params.Param(bbox.MinLng), params.Param(bbox.MaxLng)),
	}
	if sampleGroup != nil {
		conditions = append(conditions, "o.sample_group="+params.Param(*sampleGroup))
	}

	modeParam := params.Param(string(key.Mode))
	departureParam := params.Param(key.Departure)
	dayTypeParam := params.Param(string(key.DayType))

	query := buildSelect(
		[]string{
			"o.id", "o.osm_node_id", "o.name", "o.lat", "o.lng", "o.borough", "o.sample_group",
			"EXISTS(SELECT 1 FROM " + bandsTable + " b WHERE b.origin_id=o.id " +
				"AND b.mode=" + modeParam + " AND b.departure_time=" + departureParam +
				" AND b.day_type=" + dayTypeParam + " AND b.cutoff_minutes=30)",
		},
		[]string{intersectionsTable + " o"},
		conditions,
		fmt.Sprintf("ORDER BY o.id LIMIT %s", params.Param(limit)),
	)

	var results []OriginWithStatus
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		var row OriginWithStatus
		if err := rows.Scan(&row.Origin.ID, &row.Origin.OSMNodeID, &row.Origin.Name,
			&row.Origin.Lat, &row.Origin.Lng, &row.Origin.Borough, &row.Origin.SampleGroup,
			&row.IsComputed); err != nil {
			return err
		}
		results = append(results, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: intersections in viewport: %w", err)
	}
	return results, nil
}

// OriginByID fetches a single origin by id.
func (s *Store) OriginByID(ctx context.Context, id int64) (isochrone.Origin, error) {
	params := queryParams{}
	idParam := params.Param(id)
	query := buildSelect(
		[]string{"id", "osm_node_id", "name", "lat", "lng", "borough", "sample_group"},
		[]string{intersectionsTable},
		[]string{"id=" + idParam},
		"",
	)

	var origin isochrone.Origin
	err := withTx(s.db, true, func(tx *sql.Tx) error {
		row := tx.QueryRow(query, params...)
		return row.Scan(&origin.ID, &origin.OSMNodeID, &origin.Name, &origin.Lat, &origin.Lng,
			&origin.Borough, &origin.SampleGroup)
	})
	if err == sql.ErrNoRows {
		return isochrone.Origin{}, isochrone.ErrNoSuchOrigin
	}
	if err != nil {
		return isochrone.Origin{}, fmt.Errorf("store: origin by id: %w", err)
	}
	return origin, nil
}
