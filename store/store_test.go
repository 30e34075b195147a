// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/store"
)

// newTestStore connects to HOWFAR_TEST_DATABASE_URL, migrates it to the
// latest schema, and tears the schema back down when the test finishes.
// Tests are skipped, not failed, when that variable is unset: a
// PostGIS-capable database is infrastructure this package cannot assume
// is present in every environment that runs `go test ./...`.
func newTestStore(t *testing.T) (*store.Store, *clock.Mock) {
	t.Helper()
	dsn := os.Getenv("HOWFAR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("HOWFAR_TEST_DATABASE_URL not set; skipping store integration test")
	}

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	s, err := store.New(dsn, store.WithClock(mockClock), store.WithStaleHorizon(2*time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.Upgrade(s.DB()))
	t.Cleanup(func() {
		require.NoError(t, store.Downgrade(s.DB()))
		require.NoError(t, s.Close())
	})
	return s, mockClock
}

func insertOrigin(t *testing.T, s *store.Store, id int64, name, borough string, lat, lng float64, sampleGroup int) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO intersections (id, osm_node_id, name, lat, lng, borough, sample_group, geom)
		 VALUES ($1, $1, $2, $3, $4, $5, $6, ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography)`,
		id, name, lat, lng, borough, sampleGroup)
	require.NoError(t, err)
}

func insertLandBoundary(t *testing.T, s *store.Store, polygon orb.Polygon) {
	t.Helper()
	// Replaces the single land_boundary row with polygon. Most tests pass
	// nycLandBoundary(), a generous square covering all of NYC, so the
	// clip's intersection is not empty there.
	_, err := s.DB().Exec(`DELETE FROM land_boundary`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO land_boundary (geometry) VALUES (ST_GeomFromText($1, 4326))`, wkt.MarshalString(polygon))
	require.NoError(t, err)
}

func nycLandBoundary() orb.Polygon {
	return orb.Polygon{{
		{-74.3, 40.4}, {-73.6, 40.4}, {-73.6, 40.95}, {-74.3, 40.95}, {-74.3, 40.4},
	}}
}

func squareAround(lng, lat, halfSide float64) orb.Polygon {
	return orb.Polygon{{
		{lng - halfSide, lat - halfSide}, {lng + halfSide, lat - halfSide},
		{lng + halfSide, lat + halfSide}, {lng - halfSide, lat + halfSide},
		{lng - halfSide, lat - halfSide},
	}}
}

func eightBands(center orb.Point) map[int]orb.Geometry {
	bands := make(map[int]orb.Geometry, len(isochrone.CanonicalCutoffs))
	for i, cutoff := range isochrone.CanonicalCutoffs {
		side := 0.001 * float64(i+1)
		bands[cutoff] = squareAround(center[0], center[1], side)
	}
	return bands
}

var weekdayKey = isochrone.CacheKey{Mode: isochrone.ModeTransit, Departure: "10:00:00", DayType: isochrone.DayWeekday}

// TestSaveIsochroneIdempotent checks that saving the same bands twice
// replaces geometry in place rather than duplicating rows.
func TestSaveIsochroneIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Broadway & 42nd", "Manhattan", 40.756, -73.987, 0)

	origin := orb.Point{-73.987, 40.756}
	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, eightBands(origin)))
	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, eightBands(origin)))

	bands, err := s.CachedIsochrone(ctx, 1, weekdayKey)
	require.NoError(t, err)
	assert.True(t, bands.Complete())
}

// TestSaveIsochroneClipInvariant checks that an input entirely outside
// land falls back to the raw input rather than persisting an empty
// geometry.
func TestSaveIsochroneClipInvariant(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	// A tiny land boundary far from the isochrone band: intersection is empty.
	insertLandBoundary(t, s, squareAround(0, 0, 0.01))
	insertOrigin(t, s, 1, "Broadway & 42nd", "Manhattan", 40.756, -73.987, 0)

	origin := orb.Point{-73.987, 40.756}
	bands := map[int]orb.Geometry{30: squareAround(origin[0], origin[1], 0.01)}
	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, bands))

	cached, err := s.CachedIsochrone(ctx, 1, weekdayKey)
	require.NoError(t, err)
	band := cached[30]
	assert.True(t, isochrone.HasCoordinates(band.Geometry), "fallback to unclipped input must not be empty")
}

// TestGetPendingSelection checks that origins with a full band set
// under "completed" are not re-returned, while origins with no status
// row or a partial band set are.
func TestGetPendingSelection(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Done", "Manhattan", 40.75, -73.98, 0)
	insertOrigin(t, s, 2, "Untouched", "Brooklyn", 40.65, -73.95, 0)

	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, eightBands(orb.Point{-73.98, 40.75})))
	require.NoError(t, s.MarkProcessing(ctx, 1, weekdayKey))
	require.NoError(t, s.MarkCompleted(ctx, 1, weekdayKey))

	pending, err := s.GetPending(ctx, weekdayKey, 10, nil)
	require.NoError(t, err)
	var ids []int64
	for _, o := range pending {
		ids = append(ids, o.ID)
	}
	assert.NotContains(t, ids, int64(1))
	assert.Contains(t, ids, int64(2))
}

// TestGetPendingReQueuesPartialBandSet checks that an origin marked
// completed but missing bands (an interrupted SaveIsochrone) is
// selected again.
func TestGetPendingReQueuesPartialBandSet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Partial", "Manhattan", 40.75, -73.98, 0)

	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, map[int]orb.Geometry{
		15: squareAround(-73.98, 40.75, 0.001),
		30: squareAround(-73.98, 40.75, 0.002),
	}))
	require.NoError(t, s.MarkProcessing(ctx, 1, weekdayKey))
	require.NoError(t, s.MarkCompleted(ctx, 1, weekdayKey))

	pending, err := s.GetPending(ctx, weekdayKey, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ID)
}

// TestGetPendingStaleProcessingRecovered checks that a processing row
// started before the stale horizon is selected again.
func TestGetPendingStaleProcessingRecovered(t *testing.T) {
	s, mockClock := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Stuck", "Manhattan", 40.75, -73.98, 0)

	require.NoError(t, s.MarkProcessing(ctx, 1, weekdayKey))
	mockClock.Add(10 * time.Minute)

	pending, err := s.GetPending(ctx, weekdayKey, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ID)
}

// TestGetPendingPriorityOrder covers priority ordering: Manhattan
// origins sort ahead of Brooklyn ones regardless of insertion order.
func TestGetPendingPriorityOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Brooklyn first", "Brooklyn", 40.65, -73.95, 0)
	insertOrigin(t, s, 2, "Manhattan second", "Manhattan", 40.75, -73.98, 0)

	pending, err := s.GetPending(ctx, weekdayKey, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(2), pending[0].ID, "Manhattan must sort ahead of Brooklyn")
}

// TestGetPendingRegionFilter checks that a non-empty regions list
// excludes origins outside it, not just reorders them.
func TestGetPendingRegionFilter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Brooklyn", "Brooklyn", 40.65, -73.95, 0)
	insertOrigin(t, s, 2, "Manhattan", "Manhattan", 40.75, -73.98, 0)

	pending, err := s.GetPending(ctx, weekdayKey, 10, []string{"Manhattan"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)
}

// TestResetFailed covers the `howfar-batch retry` subcommand's
// underlying operation: failed rows, and only failed rows, go back to
// pending.
func TestResetFailed(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Failed", "Manhattan", 40.75, -73.98, 0)
	insertOrigin(t, s, 2, "Completed", "Manhattan", 40.76, -73.99, 0)

	require.NoError(t, s.MarkProcessing(ctx, 1, weekdayKey))
	require.NoError(t, s.MarkFailed(ctx, 1, weekdayKey, "routing worker timeout"))
	require.NoError(t, s.SaveIsochrone(ctx, 2, weekdayKey, eightBands(orb.Point{-73.99, 40.76})))
	require.NoError(t, s.MarkProcessing(ctx, 2, weekdayKey))
	require.NoError(t, s.MarkCompleted(ctx, 2, weekdayKey))

	n, err := s.ResetFailed(ctx, weekdayKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	pending, err := s.GetPending(ctx, weekdayKey, 10, nil)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ID)
}

// TestNearestWithBothModes checks that the nearest origin returned must
// have bands for both transit and bike under the same (departure, day
// type), never just one.
func TestNearestWithBothModes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Transit only", "Manhattan", 40.750, -73.980, 0)
	insertOrigin(t, s, 2, "Both modes", "Manhattan", 40.760, -73.990, 0)

	transitOnlyKey := weekdayKey
	bikeKey := isochrone.CacheKey{Mode: isochrone.ModeBike, Departure: weekdayKey.Departure, DayType: weekdayKey.DayType}

	require.NoError(t, s.SaveIsochrone(ctx, 1, transitOnlyKey, eightBands(orb.Point{-73.980, 40.750})))
	require.NoError(t, s.SaveIsochrone(ctx, 2, transitOnlyKey, eightBands(orb.Point{-73.990, 40.760})))
	require.NoError(t, s.SaveIsochrone(ctx, 2, bikeKey, eightBands(orb.Point{-73.990, 40.760})))

	result, err := s.NearestWithBothModes(ctx, 40.755, -73.985, weekdayKey.Departure, weekdayKey.DayType)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Origin.ID)
	assert.True(t, result.Transit.Complete())
	assert.True(t, result.Bike.Complete())
}

// TestStats exercises the operator-facing summary used by
// `howfar-batch status`.
func TestStats(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Origin", "Manhattan", 40.75, -73.98, 0)

	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, eightBands(orb.Point{-73.98, 40.75})))
	require.NoError(t, s.MarkProcessing(ctx, 1, weekdayKey))
	require.NoError(t, s.MarkCompleted(ctx, 1, weekdayKey))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalOrigins)
	assert.EqualValues(t, len(isochrone.CanonicalCutoffs), stats.ModeStats[isochrone.ModeTransit].BandCount)
	assert.EqualValues(t, 1, stats.StatusCounts[isochrone.StatusCompleted])
}

// TestBoundingBox covers the memoized viewport default.
func TestBoundingBox(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	insertLandBoundary(t, s, nycLandBoundary())
	insertOrigin(t, s, 1, "Origin", "Manhattan", 40.75, -73.98, 0)

	_, err := s.BoundingBox(ctx)
	assert.ErrorIs(t, err, isochrone.ErrCacheMiss)

	require.NoError(t, s.SaveIsochrone(ctx, 1, weekdayKey, eightBands(orb.Point{-73.98, 40.75})))

	box, err := s.BoundingBox(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 40.75, box.MinLat, 0.05)
}
