// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/ahmed-machine/howfar/isochrone"
)

// simplifyToleranceDegrees approximates 11 meters at NYC's latitude,
// used to cap the payload size of nearest-origin responses.
const simplifyToleranceDegrees = 0.0001

// saveIsochroneUpdateClause renders the ON CONFLICT ... DO UPDATE SET
// clause for saveIsochroneQuery through the same fieldList helper the
// rest of the store uses for dynamic INSERT/UPDATE statements.
func saveIsochroneUpdateClause() string {
	var f fieldList
	f.AddRaw("geometry", "EXCLUDED.geometry")
	f.AddRaw("geometry_unclipped", "EXCLUDED.geometry_unclipped")
	f.AddRaw("computed_at", "EXCLUDED.computed_at")
	return strings.Join(f.UpdateChanges(), ", ")
}

// saveIsochroneQuery upserts one band, clipping it against the single
// land_boundary row: the persisted geometry is
// CollectionExtract(MakeValid(Intersection(input, land)), POLYGONS),
// falling back to the raw input when that intersection is empty or
// invalid.
var saveIsochroneQuery = fmt.Sprintf(`
INSERT INTO isochrone_bands (origin_id, mode, departure_time, day_type, cutoff_minutes, geometry, geometry_unclipped, computed_at)
SELECT $1, $2, $3, $4, $5,
  CASE WHEN clipped.g IS NULL OR ST_IsEmpty(clipped.g) THEN input.g ELSE clipped.g END,
  input.g,
  now()
FROM (SELECT ST_SetSRID(ST_GeomFromWKB($6), 4326) AS g) input
LEFT JOIN LATERAL (
  SELECT ST_CollectionExtract(ST_MakeValid(ST_Intersection(input.g, land.geometry)), 3) AS g
  FROM land_boundary land
  LIMIT 1
) clipped ON true
ON CONFLICT (origin_id, mode, departure_time, day_type, cutoff_minutes)
DO UPDATE SET %s
`, saveIsochroneUpdateClause())

// SaveIsochrone upserts one row per band. Each band is an independent
// upsert in its own transaction: an interruption midway leaves a
// partial band-row set, which the selection query re-queues because
// its row count is below 8.
//
// Idempotent: calling this twice with the same bands replaces geometry
// and bumps computed_at without creating duplicate rows.
func (s *Store) SaveIsochrone(ctx context.Context, originID int64, key isochrone.CacheKey, bands map[int]orb.Geometry) error {
	if err := key.Validate(); err != nil {
		return err
	}

	var errs []string
	for cutoff, geom := range bands {
		geomWKB, err := wkb.Marshal(geom)
		if err != nil {
			errs = append(errs, fmt.Sprintf("cutoff %d: encoding geometry: %v", cutoff, err))
			continue
		}
		params := queryParams{originID, string(key.Mode), key.Departure, string(key.DayType), cutoff, geomWKB}
		if err := execInTx(s.db, saveIsochroneQuery, params); err != nil {
			errs = append(errs, fmt.Sprintf("cutoff %d: %v", cutoff, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: save isochrone: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CachedIsochrone returns the band map for a specific origin and cache
// key, or isochrone.ErrCacheMiss if none exist.
func (s *Store) CachedIsochrone(ctx context.Context, originID int64, key isochrone.CacheKey) (isochrone.BandSet, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	params := queryParams{}
	query := buildSelect(
		[]string{"cutoff_minutes", "ST_AsBinary(geometry)", "ST_AsBinary(geometry_unclipped)", "computed_at"},
		[]string{bandsTable},
		[]string{
			"origin_id=" + params.Param(originID),
			"mode=" + params.Param(string(key.Mode)),
			"departure_time=" + params.Param(key.Departure),
			"day_type=" + params.Param(string(key.DayType)),
		},
		"",
	)

	bands := make(isochrone.BandSet)
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		band, err := scanBand(rows, originID, key)
		if err != nil {
			return err
		}
		bands[band.CutoffMinutes] = band
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: cached isochrone: %w", err)
	}
	if len(bands) == 0 {
		return nil, isochrone.ErrCacheMiss
	}
	return bands, nil
}

func scanBand(rows *sql.Rows, originID int64, key isochrone.CacheKey) (isochrone.Band, error) {
	var (
		cutoff             int
		clippedWKB, rawWKB []byte
		band               isochrone.Band
	)
	if err := rows.Scan(&cutoff, &clippedWKB, &rawWKB, &band.ComputedAt); err != nil {
		return isochrone.Band{}, err
	}
	clipped, err := wkb.Unmarshal(clippedWKB)
	if err != nil {
		return isochrone.Band{}, fmt.Errorf("decoding clipped geometry: %w", err)
	}
	raw, err := wkb.Unmarshal(rawWKB)
	if err != nil {
		return isochrone.Band{}, fmt.Errorf("decoding unclipped geometry: %w", err)
	}
	band.OriginID = originID
	band.Mode = key.Mode
	band.Departure = key.Departure
	band.DayType = key.DayType
	band.CutoffMinutes = cutoff
	band.Geometry = clipped
	band.GeometryUnclipped = raw
	return band, nil
}

// NearestResult is the result of NearestWithIsochrone: the nearest
// origin with any cached band for a cache key, plus its bands.
type NearestResult struct {
	Origin isochrone.Origin
	Bands  isochrone.BandSet
}

// NearestWithIsochrone finds the nearest origin (great-circle distance)
// that has any band row under key, and returns it with all of its bands
// in a single round trip, each simplified to cap payload size. Returns
// isochrone.ErrCacheMiss if no origin has any band for this key.
func (s *Store) NearestWithIsochrone(ctx context.Context, lat, lng float64, key isochrone.CacheKey) (*NearestResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	params := queryParams{}
	latP := params.Param(lat)
	lngP := params.Param(lng)
	modeP := params.Param(string(key.Mode))
	departureP := params.Param(key.Departure)
	dayTypeP := params.Param(string(key.DayType))

	query := fmt.Sprintf(`
SELECT o.id, o.osm_node_id, o.name, o.lat, o.lng, o.borough, o.sample_group,
       b.cutoff_minutes, ST_AsBinary(ST_SimplifyPreserveTopology(b.geometry, %g)),
       ST_AsBinary(ST_SimplifyPreserveTopology(b.geometry_unclipped, %g)), b.computed_at
FROM %s o
JOIN %s b ON b.origin_id = o.id AND b.mode = %s AND b.departure_time = %s AND b.day_type = %s
WHERE o.id = (
  SELECT o2.id
  FROM %s o2
  JOIN %s b2 ON b2.origin_id = o2.id AND b2.mode = %s AND b2.departure_time = %s AND b2.day_type = %s
  ORDER BY o2.geom <-> ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography
  LIMIT 1
)`, simplifyToleranceDegrees, simplifyToleranceDegrees,
		intersectionsTable, bandsTable, modeP, departureP, dayTypeP,
		intersectionsTable, bandsTable, modeP, departureP, dayTypeP,
		lngP, latP)

	var result *NearestResult
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		var (
			origin             isochrone.Origin
			cutoff             int
			clippedWKB, rawWKB []byte
			computedAt         sql.NullTime
		)
		if err := rows.Scan(&origin.ID, &origin.OSMNodeID, &origin.Name, &origin.Lat, &origin.Lng,
			&origin.Borough, &origin.SampleGroup, &cutoff, &clippedWKB, &rawWKB, &computedAt); err != nil {
			return err
		}
		if result == nil {
			result = &NearestResult{Origin: origin, Bands: make(isochrone.BandSet)}
		}
		clipped, err := wkb.Unmarshal(clippedWKB)
		if err != nil {
			return fmt.Errorf("decoding clipped geometry: %w", err)
		}
		raw, err := wkb.Unmarshal(rawWKB)
		if err != nil {
			return fmt.Errorf("decoding unclipped geometry: %w", err)
		}
		result.Bands[cutoff] = isochrone.Band{
			OriginID:          origin.ID,
			Mode:              key.Mode,
			Departure:         key.Departure,
			DayType:           key.DayType,
			CutoffMinutes:     cutoff,
			Geometry:          clipped,
			GeometryUnclipped: raw,
			ComputedAt:        computedAt.Time,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: nearest with isochrone: %w", err)
	}
	if result == nil {
		return nil, isochrone.ErrCacheMiss
	}
	return result, nil
}

// BothModesResult is the result of NearestWithBothModes.
type BothModesResult struct {
	Origin  isochrone.Origin
	Transit isochrone.BandSet
	Bike    isochrone.BandSet
}

// NearestWithBothModes finds the nearest origin that has bands under
// both mode=transit and mode=bike for the given (departure, dayType),
// and returns both band sets. Never returns an origin missing either
// mode's bands.
func (s *Store) NearestWithBothModes(ctx context.Context, lat, lng float64, departure string, dayType isochrone.DayType) (*BothModesResult, error) {
	transitKey := isochrone.CacheKey{Mode: isochrone.ModeTransit, Departure: departure, DayType: dayType}
	bikeKey := isochrone.CacheKey{Mode: isochrone.ModeBike, Departure: departure, DayType: dayType}
	if err := transitKey.Validate(); err != nil {
		return nil, err
	}

	params := queryParams{}
	latP := params.Param(lat)
	lngP := params.Param(lng)
	departureP := params.Param(departure)
	dayTypeP := params.Param(string(dayType))
	transitModeP := params.Param(string(isochrone.ModeTransit))
	bikeModeP := params.Param(string(isochrone.ModeBike))

	query := fmt.Sprintf(`
SELECT o.id
FROM %s o
WHERE EXISTS (SELECT 1 FROM %s b WHERE b.origin_id = o.id AND b.mode = %s AND b.departure_time = %s AND b.day_type = %s)
  AND EXISTS (SELECT 1 FROM %s b WHERE b.origin_id = o.id AND b.mode = %s AND b.departure_time = %s AND b.day_type = %s)
ORDER BY o.geom <-> ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography
LIMIT 1`, intersectionsTable,
		bandsTable, transitModeP, departureP, dayTypeP,
		bandsTable, bikeModeP, departureP, dayTypeP,
		lngP, latP)

	var originID int64
	err := withTx(s.db, true, func(tx *sql.Tx) error {
		row := tx.QueryRow(query, params...)
		return row.Scan(&originID)
	})
	if err == sql.ErrNoRows {
		return nil, isochrone.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("store: nearest with both modes: %w", err)
	}

	origin, err := s.OriginByID(ctx, originID)
	if err != nil {
		return nil, err
	}
	transitBands, err := s.CachedIsochrone(ctx, originID, transitKey)
	if err != nil {
		return nil, fmt.Errorf("store: nearest with both modes: transit bands: %w", err)
	}
	bikeBands, err := s.CachedIsochrone(ctx, originID, bikeKey)
	if err != nil {
		return nil, fmt.Errorf("store: nearest with both modes: bike bands: %w", err)
	}
	return &BothModesResult{Origin: origin, Transit: transitBands, Bike: bikeBands}, nil
}
