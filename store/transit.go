// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
)

var transitStopColumns = []string{"id", "gtfs_stop_id", "stop_name", "lat", "lng", "stop_type", "agency"}

func scanTransitStop(rows *sql.Rows) (isochrone.TransitStop, error) {
	var t isochrone.TransitStop
	err := rows.Scan(&t.ID, &t.GTFSStopID, &t.Name, &t.Lat, &t.Lng, &t.StopType, &t.Agency)
	return t, err
}

// TransitStopsInViewport returns up to limit transit stops inside bbox,
// independent of any isochrone cache key: transit stops are served raw.
func (s *Store) TransitStopsInViewport(ctx context.Context, bbox BBox, limit int) ([]isochrone.TransitStop, error) {
	params := queryParams{}
	conditions := []string{
		fmt.Sprintf("lat BETWEEN %s AND %s", params.Param(bbox.MinLat), params.Param(bbox.MaxLat)),
		fmt.Sprintf("lng BETWEEN %s AND %s", params.Param(bbox.MinLng), params.Param(bbox.MaxLng)),
	}
	query := buildSelect(transitStopColumns, []string{transitStopsTable}, conditions,
		fmt.Sprintf("ORDER BY id LIMIT %s", params.Param(limit)))

	var stops []isochrone.TransitStop
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		stop, err := scanTransitStop(rows)
		if err != nil {
			return err
		}
		stops = append(stops, stop)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: transit stops in viewport: %w", err)
	}
	return stops, nil
}

// NearbyTransitStops returns up to limit transit stops within
// radiusMeters of (lat, lng), nearest first.
func (s *Store) NearbyTransitStops(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]isochrone.TransitStop, error) {
	params := queryParams{}
	latP := params.Param(lat)
	lngP := params.Param(lng)
	radiusP := params.Param(radiusMeters)
	limitP := params.Param(limit)

	query := fmt.Sprintf(`
SELECT id, gtfs_stop_id, stop_name, lat, lng, stop_type, agency
FROM %s
WHERE ST_DWithin(geom, ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography, %s)
ORDER BY geom <-> ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography
LIMIT %s`, transitStopsTable, lngP, latP, radiusP, lngP, latP, limitP)

	var stops []isochrone.TransitStop
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		stop, err := scanTransitStop(rows)
		if err != nil {
			return err
		}
		stops = append(stops, stop)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: nearby transit stops: %w", err)
	}
	return stops, nil
}
