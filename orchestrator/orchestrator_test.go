// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/orchestrator"
)

var testKey = isochrone.CacheKey{Mode: isochrone.ModeTransit, Departure: "10:00:00", DayType: isochrone.DayWeekday}

func eightBands() map[int]orb.Geometry {
	bands := make(map[int]orb.Geometry, len(isochrone.CanonicalCutoffs))
	for _, cutoff := range isochrone.CanonicalCutoffs {
		side := 0.001 * float64(cutoff)
		bands[cutoff] = orb.Polygon{{{-side, -side}, {side, -side}, {side, side}, {-side, side}, {-side, -side}}}
	}
	return bands
}

// fakeStore is an in-memory stand-in for *store.Store.
type fakeStore struct {
	mu       sync.Mutex
	pending  []isochrone.Origin
	statuses map[int64]isochrone.BatchStatusValue
	bands    map[int64]map[int]orb.Geometry
	reasons  map[int64]string
}

func newFakeStore(origins ...isochrone.Origin) *fakeStore {
	return &fakeStore{
		pending:  origins,
		statuses: make(map[int64]isochrone.BatchStatusValue),
		bands:    make(map[int64]map[int]orb.Geometry),
		reasons:  make(map[int64]string),
	}
}

func (f *fakeStore) GetPending(ctx context.Context, key isochrone.CacheKey, limit int, regions []string) ([]isochrone.Origin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.pending
	if len(regions) > 0 {
		var filtered []isochrone.Origin
		for _, o := range pending {
			for _, r := range regions {
				if o.Borough == r {
					filtered = append(filtered, o)
					break
				}
			}
		}
		pending = filtered
	}
	if limit > 0 && limit < len(pending) {
		return append([]isochrone.Origin(nil), pending[:limit]...), nil
	}
	return append([]isochrone.Origin(nil), pending...), nil
}

func (f *fakeStore) MarkProcessing(ctx context.Context, originID int64, key isochrone.CacheKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[originID] = isochrone.StatusProcessing
	return nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, originID int64, key isochrone.CacheKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[originID] = isochrone.StatusCompleted
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, originID int64, key isochrone.CacheKey, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[originID] = isochrone.StatusFailed
	f.reasons[originID] = reason
	return nil
}

func (f *fakeStore) SaveIsochrone(ctx context.Context, originID int64, key isochrone.CacheKey, bands map[int]orb.Geometry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bands[originID] = bands
	return nil
}

func (f *fakeStore) ResetFailed(ctx context.Context, key isochrone.CacheKey) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, status := range f.statuses {
		if status == isochrone.StatusFailed {
			f.statuses[id] = isochrone.StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) status(id int64) isochrone.BatchStatusValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

// fakeFleet assigns worker URLs by i mod N and records which origin
// index hit which worker.
type fakeFleet struct {
	mu      sync.Mutex
	urls    []string
	healthy bool
	calls   map[string]int
}

func newFakeFleet(n int) *fakeFleet {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://worker-%d", i)
	}
	return &fakeFleet{urls: urls, healthy: true, calls: make(map[string]int)}
}

func (f *fakeFleet) Size() int { return len(f.urls) }

func (f *fakeFleet) Worker(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := f.urls[((i%len(f.urls))+len(f.urls))%len(f.urls)]
	f.calls[url]++
	return url
}

func (f *fakeFleet) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

// fakeRouting returns a canned band set, or a canned error, per origin.
type fakeRouting struct {
	mu       sync.Mutex
	bands    map[int64]map[int]orb.Geometry
	errs     map[int64]error
	requests []string
}

func newFakeRouting() *fakeRouting {
	return &fakeRouting{bands: make(map[int64]map[int]orb.Geometry), errs: make(map[int64]error)}
}

func (f *fakeRouting) ComputeIsochrones(ctx context.Context, workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (map[int]orb.Geometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, workerBaseURL)
	if err, ok := f.errs[origin.ID]; ok {
		return nil, err
	}
	if bands, ok := f.bands[origin.ID]; ok {
		return bands, nil
	}
	return eightBands(), nil
}

// TestRunBatchSuccess covers the single-success literal scenario: one
// origin, one worker, a full band set saved and marked completed.
func TestRunBatchSuccess(t *testing.T) {
	origin := isochrone.Origin{ID: 1, Name: "Origin", Lat: 40.75, Lng: -73.98, Borough: "Manhattan"}
	s := newFakeStore(origin)
	f := newFakeFleet(1)
	r := newFakeRouting()

	o := orchestrator.New(s, f, r, orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, isochrone.StatusCompleted, s.status(1))
	assert.Len(t, s.bands[1], len(isochrone.CanonicalCutoffs))
}

// TestRunBatchWorkerAffinity checks that origin i is always sent to
// fleet.Worker(i), a stable assignment independent of goroutine
// scheduling order.
func TestRunBatchWorkerAffinity(t *testing.T) {
	origins := make([]isochrone.Origin, 6)
	for i := range origins {
		origins[i] = isochrone.Origin{ID: int64(i + 1), Name: "O", Borough: "Manhattan"}
	}
	s := newFakeStore(origins...)
	f := newFakeFleet(3)
	r := newFakeRouting()

	o := orchestrator.New(s, f, r, orchestrator.WithConcurrency(1), orchestrator.WithMetricsRegisterer(nil))
	_, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)

	// With concurrency 1, jobs drain in index order 0..5, so worker-0
	// must have been hit exactly twice (indices 0 and 3), and so on.
	assert.Equal(t, 2, f.calls["http://worker-0"])
	assert.Equal(t, 2, f.calls["http://worker-1"])
	assert.Equal(t, 2, f.calls["http://worker-2"])
}

// TestRunBatchRoutingFailureIsolated covers one origin's routing
// failure not blocking the rest of the batch.
func TestRunBatchRoutingFailureIsolated(t *testing.T) {
	ok := isochrone.Origin{ID: 1, Name: "OK", Borough: "Manhattan"}
	bad := isochrone.Origin{ID: 2, Name: "Bad", Borough: "Manhattan"}
	s := newFakeStore(ok, bad)
	f := newFakeFleet(2)
	r := newFakeRouting()
	r.errs[2] = fmt.Errorf("routing worker: connection refused")

	o := orchestrator.New(s, f, r, orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, isochrone.StatusCompleted, s.status(1))
	assert.Equal(t, isochrone.StatusFailed, s.status(2))
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, int64(2), summary.Failures[0].OriginID)
}

// TestRunBatchTruncationDetected checks that a routing response with an
// empty 180-minute band is treated as a failure, not saved.
func TestRunBatchTruncationDetected(t *testing.T) {
	origin := isochrone.Origin{ID: 1, Name: "Truncated", Borough: "Manhattan"}
	s := newFakeStore(origin)
	f := newFakeFleet(1)
	r := newFakeRouting()
	truncated := eightBands()
	truncated[180] = orb.Polygon{}
	r.bands[1] = truncated

	o := orchestrator.New(s, f, r, orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, isochrone.StatusFailed, s.status(1))
	assert.Contains(t, s.reasons[1], "empty isochrone")
	assert.Empty(t, s.bands[1], "a truncated response must never be saved")
}

// TestRunBatchNoPendingOrigins covers the trivially-empty case.
func TestRunBatchNoPendingOrigins(t *testing.T) {
	s := newFakeStore()
	f := newFakeFleet(1)
	r := newFakeRouting()

	o := orchestrator.New(s, f, r, orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Summary{}, summary)
}

// TestRunBatchRegionFilter checks that WithRegions restricts selection
// to the configured boroughs, not just the store's own ordering.
func TestRunBatchRegionFilter(t *testing.T) {
	manhattan := isochrone.Origin{ID: 1, Name: "Manhattan", Borough: "Manhattan"}
	brooklyn := isochrone.Origin{ID: 2, Name: "Brooklyn", Borough: "Brooklyn"}
	s := newFakeStore(manhattan, brooklyn)
	f := newFakeFleet(1)
	r := newFakeRouting()

	o := orchestrator.New(s, f, r, orchestrator.WithRegions([]string{"Brooklyn"}), orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, isochrone.StatusCompleted, s.status(2))
	assert.Equal(t, isochrone.BatchStatusValue(""), s.status(1), "Manhattan must never be claimed when regions excludes it")
}

// TestRunBatchCustomCutoffs checks that a narrower configured cutoff
// set is both requested from the routing worker and used to pick the
// widest band for the truncation check.
func TestRunBatchCustomCutoffs(t *testing.T) {
	origin := isochrone.Origin{ID: 1, Name: "Narrow", Borough: "Manhattan"}
	s := newFakeStore(origin)
	f := newFakeFleet(1)
	r := newFakeRouting()
	r.bands[1] = map[int]orb.Geometry{15: orb.Polygon{}, 30: orb.Polygon{}}

	o := orchestrator.New(s, f, r, orchestrator.WithCutoffs([]int{15, 30}), orchestrator.WithMetricsRegisterer(nil))
	summary, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed, "an empty 30-minute band must be treated as truncation when 30 is the widest configured cutoff")
	assert.Equal(t, isochrone.StatusFailed, s.status(1))
}

// TestRetryFailed exercises the CLI-facing retry path.
func TestRetryFailed(t *testing.T) {
	origin := isochrone.Origin{ID: 1, Name: "Bad", Borough: "Manhattan"}
	s := newFakeStore(origin)
	f := newFakeFleet(1)
	r := newFakeRouting()
	r.errs[1] = fmt.Errorf("timeout")

	o := orchestrator.New(s, f, r, orchestrator.WithMetricsRegisterer(nil))
	_, err := o.RunBatch(context.Background(), testKey, 10)
	require.NoError(t, err)
	require.Equal(t, isochrone.StatusFailed, s.status(1))

	n, err := o.RetryFailed(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, isochrone.StatusPending, s.status(1))
}

// TestWaitForFleetSucceedsEventually covers the startup health gate
// recovering once a worker comes up.
func TestWaitForFleetSucceedsEventually(t *testing.T) {
	mockClock := clock.NewMock()
	f := &toggleHealth{healthyAfter: 3}

	errCh := make(chan error, 1)
	go func() {
		errCh <- orchestrator.WaitForFleet(context.Background(), f, mockClock, 5, time.Second)
	}()

	for i := 0; i < 4; i++ {
		mockClock.Add(time.Second)
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForFleet did not return in time")
	}
}

// TestWaitForFleetGivesUp covers exhausting every attempt.
func TestWaitForFleetGivesUp(t *testing.T) {
	mockClock := clock.NewMock()
	f := &toggleHealth{healthyAfter: -1}

	errCh := make(chan error, 1)
	go func() {
		errCh <- orchestrator.WaitForFleet(context.Background(), f, mockClock, 3, time.Second)
	}()

	for i := 0; i < 3; i++ {
		mockClock.Add(time.Second)
	}

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, isochrone.ErrFleetUnhealthy)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForFleet did not return in time")
	}
}

type toggleHealth struct {
	mu           sync.Mutex
	attempts     int
	healthyAfter int // -1 means never healthy
}

func (t *toggleHealth) HealthCheck(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.healthyAfter >= 0 && t.attempts >= t.healthyAfter
}
