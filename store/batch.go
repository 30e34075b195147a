// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ahmed-machine/howfar/isochrone"
)

// boroughOrderCase builds a SQL CASE expression that sorts boroughs by
// isochrone.BoroughPriority, with any borough not in that list sorted
// last.
func boroughOrderCase(column string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CASE %s", column)
	for i, borough := range isochrone.BoroughPriority {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", borough, i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(isochrone.BoroughPriority))
	return b.String()
}

// GetPending returns origins still needing work under key, in priority
// order: boroughs in isochrone.BoroughPriority order, then origin id.
// An origin is pending if it has no batch_status row, an explicit
// pending row, a completed row whose band count has fallen below the
// canonical eight, or a processing row stuck past the stale horizon.
// When regions is non-empty, selection is additionally restricted to
// origins whose borough appears in that list.
func (s *Store) GetPending(ctx context.Context, key isochrone.CacheKey, limit int, regions []string) ([]isochrone.Origin, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	params := queryParams{}
	modeP := params.Param(string(key.Mode))
	departureP := params.Param(key.Departure)
	dayTypeP := params.Param(string(key.DayType))
	staleBeforeP := params.Param(s.clock.Now().Add(-s.staleHorizon))

	regionFilter := ""
	if len(regions) > 0 {
		regionFilter = fmt.Sprintf(" AND o.borough = ANY(%s)", params.Param(pq.Array(regions)))
	}

	limitP := params.Param(limit)

	query := fmt.Sprintf(`
SELECT o.id, o.osm_node_id, o.name, o.lat, o.lng, o.borough, o.sample_group
FROM %s o
LEFT JOIN %s bs ON bs.intersection_id = o.id AND bs.mode = %s AND bs.departure_time = %s AND bs.day_type = %s
LEFT JOIN (
  SELECT origin_id, COUNT(*) AS band_count
  FROM %s
  WHERE mode = %s AND departure_time = %s AND day_type = %s
  GROUP BY origin_id
) bc ON bc.origin_id = o.id
WHERE (bs.intersection_id IS NULL
   OR bs.status = 'pending'
   OR (bs.status = 'completed' AND COALESCE(bc.band_count, 0) < %d)
   OR (bs.status = 'processing' AND bs.started_at < %s))%s
ORDER BY %s, o.id
LIMIT %s`,
		intersectionsTable, batchStatusTable, modeP, departureP, dayTypeP,
		bandsTable, modeP, departureP, dayTypeP,
		len(isochrone.CanonicalCutoffs), staleBeforeP, regionFilter,
		boroughOrderCase("o.borough"), limitP)

	var origins []isochrone.Origin
	err := queryAndScan(s.db, query, params, func(rows *sql.Rows) error {
		var o isochrone.Origin
		if err := rows.Scan(&o.ID, &o.OSMNodeID, &o.Name, &o.Lat, &o.Lng, &o.Borough, &o.SampleGroup); err != nil {
			return err
		}
		origins = append(origins, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get pending: %w", err)
	}
	return origins, nil
}

// MarkProcessing transitions an origin to the processing state,
// claiming it for this run.
func (s *Store) MarkProcessing(ctx context.Context, originID int64, key isochrone.CacheKey) error {
	params := queryParams{}
	var f fieldList
	f.Add(&params, "intersection_id", originID)
	f.Add(&params, "mode", string(key.Mode))
	f.Add(&params, "departure_time", key.Departure)
	f.Add(&params, "day_type", string(key.DayType))
	f.AddRaw("status", "'processing'")
	// Stamped from s.clock, the same time source GetPending measures the
	// stale horizon against.
	f.Add(&params, "started_at", s.clock.Now())
	f.AddRaw("error_message", "''")

	query := f.InsertStatement(batchStatusTable) + `
ON CONFLICT (intersection_id, mode, departure_time, day_type)
DO UPDATE SET status = 'processing', started_at = EXCLUDED.started_at, completed_at = NULL, error_message = ''`

	if err := execInTx(s.db, query, params); err != nil {
		return fmt.Errorf("store: mark processing: %w", err)
	}
	return nil
}

const markCompletedQuery = `
UPDATE batch_status SET status = 'completed', completed_at = now(), error_message = ''
WHERE intersection_id = $1 AND mode = $2 AND departure_time = $3 AND day_type = $4
`

// MarkCompleted transitions an origin to the completed state. The
// caller must have already persisted all eight bands via SaveIsochrone.
func (s *Store) MarkCompleted(ctx context.Context, originID int64, key isochrone.CacheKey) error {
	params := queryParams{originID, string(key.Mode), key.Departure, string(key.DayType)}
	if err := execInTx(s.db, markCompletedQuery, params); err != nil {
		return fmt.Errorf("store: mark completed: %w", err)
	}
	return nil
}

const markFailedQuery = `
UPDATE batch_status SET status = 'failed', completed_at = now(), error_message = $5
WHERE intersection_id = $1 AND mode = $2 AND departure_time = $3 AND day_type = $4
`

// MarkFailed transitions an origin to the failed state, recording why.
// A failed origin is only retried by an explicit ResetFailed call, not
// by ordinary GetPending selection.
func (s *Store) MarkFailed(ctx context.Context, originID int64, key isochrone.CacheKey, reason string) error {
	params := queryParams{originID, string(key.Mode), key.Departure, string(key.DayType), reason}
	if err := execInTx(s.db, markFailedQuery, params); err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}
	return nil
}

// ResetFailed moves every failed origin under key back to pending, and
// returns how many rows were reset. This is the operator-invoked
// "retry" action, exposed as the `howfar-batch retry` subcommand.
func (s *Store) ResetFailed(ctx context.Context, key isochrone.CacheKey) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	params := queryParams{}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'pending', error_message = ''
WHERE mode = %s AND departure_time = %s AND day_type = %s AND status = 'failed'`,
		batchStatusTable, params.Param(string(key.Mode)), params.Param(key.Departure), params.Param(string(key.DayType)))

	var affected int64
	err := withTx(s.db, false, func(tx *sql.Tx) error {
		result, err := tx.Exec(query, params...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: reset failed: %w", err)
	}
	return affected, nil
}

// ModeStats summarizes cached bands for one mode.
type ModeStats struct {
	BandCount        int64
	OldestComputedAt sql.NullTime
	NewestComputedAt sql.NullTime
}

// Stats summarizes the overall state of the cache for operator
// reporting (`howfar-batch status`).
type Stats struct {
	TotalOrigins int64
	ModeStats    map[isochrone.Mode]ModeStats
	StatusCounts map[isochrone.BatchStatusValue]int64
}

// Stats computes a fresh summary of cache contents across every mode
// and batch status. It is read-only and safe to call frequently.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ModeStats:    make(map[isochrone.Mode]ModeStats),
		StatusCounts: make(map[isochrone.BatchStatusValue]int64),
	}

	err := withTx(s.db, true, func(tx *sql.Tx) error {
		if err := tx.QueryRow("SELECT COUNT(*) FROM " + intersectionsTable).Scan(&stats.TotalOrigins); err != nil {
			return fmt.Errorf("counting origins: %w", err)
		}

		modeRows, err := tx.Query(fmt.Sprintf(
			"SELECT mode, COUNT(*), MIN(computed_at), MAX(computed_at) FROM %s GROUP BY mode", bandsTable))
		if err != nil {
			return fmt.Errorf("summarizing bands: %w", err)
		}
		defer modeRows.Close()
		for modeRows.Next() {
			var mode string
			var ms ModeStats
			if err := modeRows.Scan(&mode, &ms.BandCount, &ms.OldestComputedAt, &ms.NewestComputedAt); err != nil {
				return err
			}
			stats.ModeStats[isochrone.Mode(mode)] = ms
		}
		if err := modeRows.Err(); err != nil {
			return err
		}

		statusRows, err := tx.Query(fmt.Sprintf(
			"SELECT status, COUNT(*) FROM %s GROUP BY status", batchStatusTable))
		if err != nil {
			return fmt.Errorf("summarizing batch status: %w", err)
		}
		defer statusRows.Close()
		for statusRows.Next() {
			var status string
			var count int64
			if err := statusRows.Scan(&status, &count); err != nil {
				return err
			}
			stats.StatusCounts[isochrone.BatchStatusValue(status)] = count
		}
		return statusRows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}
