// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package orchestrator drives one batch run: it pulls pending origins
// from the cache store, assigns each to a routing worker by a stable
// index, fans the work out across a bounded pool of goroutines, and
// records each origin's outcome back to the store. It has no
// knowledge of HTTP handlers, CLI flags, or configuration loading.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ahmed-machine/howfar/isochrone"
)

// pendingStore is the subset of *store.Store the orchestrator needs.
// Declaring it here, rather than depending on the concrete type,
// keeps this package's tests free of a real database.
type pendingStore interface {
	GetPending(ctx context.Context, key isochrone.CacheKey, limit int, regions []string) ([]isochrone.Origin, error)
	MarkProcessing(ctx context.Context, originID int64, key isochrone.CacheKey) error
	MarkCompleted(ctx context.Context, originID int64, key isochrone.CacheKey) error
	MarkFailed(ctx context.Context, originID int64, key isochrone.CacheKey, reason string) error
	SaveIsochrone(ctx context.Context, originID int64, key isochrone.CacheKey, bands map[int]orb.Geometry) error
	ResetFailed(ctx context.Context, key isochrone.CacheKey) (int64, error)
}

// workerFleet is the subset of *fleet.Directory the orchestrator needs.
type workerFleet interface {
	Size() int
	Worker(i int) string
	HealthCheck(ctx context.Context) bool
}

// routingClient is the subset of *routingclient.Client the orchestrator
// needs.
type routingClient interface {
	ComputeIsochrones(ctx context.Context, workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (map[int]orb.Geometry, error)
}

// Orchestrator runs batches of isochrone computation across a worker
// fleet, persisting results through a cache store.
type Orchestrator struct {
	store   pendingStore
	fleet   workerFleet
	routing routingClient

	clock       clock.Clock
	logger      *logrus.Logger
	concurrency int
	cutoffs     []int
	regions     []string
	metrics     *metrics
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithClock overrides the time source; only test code should need this.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger overrides the structured logger. Defaults to logrus's
// standard logger.
func WithLogger(l *logrus.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConcurrency overrides how many origins are processed in
// parallel. Defaults to the fleet's size, since that is the natural
// amount of work the routing workers can absorb at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithCutoffs overrides which cutoff minutes are requested from each
// routing worker. Defaults to isochrone.CanonicalCutoffs.
func WithCutoffs(cutoffs []int) Option {
	return func(o *Orchestrator) { o.cutoffs = cutoffs }
}

// WithRegions restricts GetPending selection to origins whose borough is
// in this list. Empty (the default) selects from every borough, still
// ordered by isochrone.BoroughPriority.
func WithRegions(regions []string) Option {
	return func(o *Orchestrator) { o.regions = regions }
}

// WithMetricsRegisterer registers this orchestrator's Prometheus
// collectors against reg instead of the default registry. Passing nil
// disables metrics registration entirely (useful in tests that
// construct more than one Orchestrator, since prometheus.MustRegister
// panics on a duplicate collector).
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.metrics = newMetrics(reg) }
}

// New builds an Orchestrator over the given store, fleet, and routing
// client.
func New(s pendingStore, f workerFleet, r routingClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   s,
		fleet:   f,
		routing: r,
		clock:   clock.New(),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency <= 0 {
		o.concurrency = f.Size()
	}
	if len(o.cutoffs) == 0 {
		o.cutoffs = isochrone.CanonicalCutoffs
	}
	if o.metrics == nil {
		o.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return o
}

// FailureDetail records why one origin failed within a batch.
type FailureDetail struct {
	OriginID int64
	Reason   string
}

// Summary reports the outcome of one RunBatch call.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []FailureDetail
}

type job struct {
	index  int
	origin isochrone.Origin
}

type outcome struct {
	originID int64
	failure  string
}

// RunBatch pulls up to limit pending origins under key, assigns each
// to fleet.Worker(i mod N) by its position in the priority-ordered
// pending list, and fans the work out across a bounded pool of
// goroutines. It returns once every origin has either completed or
// failed.
func (o *Orchestrator) RunBatch(ctx context.Context, key isochrone.CacheKey, limit int) (Summary, error) {
	if err := key.Validate(); err != nil {
		return Summary{}, err
	}
	if o.fleet.Size() == 0 {
		return Summary{}, fmt.Errorf("orchestrator: no routing workers configured")
	}

	pending, err := o.store.GetPending(ctx, key, limit, o.regions)
	if err != nil {
		return Summary{}, fmt.Errorf("orchestrator: run batch: %w", err)
	}
	if len(pending) == 0 {
		return Summary{}, nil
	}

	// runID correlates every log line this batch emits, across every
	// worker goroutine, back to one RunBatch call.
	runID := uuid.New().String()
	o.logger.WithFields(logrus.Fields{"run_id": runID, "mode": key.Mode, "count": len(pending)}).Info("batch run starting")

	jobs := make(chan job, len(pending))
	for i, origin := range pending {
		jobs <- job{index: i, origin: origin}
	}
	close(jobs)

	results := make(chan outcome, len(pending))
	var wg sync.WaitGroup
	for i := 0; i < o.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.drain(ctx, runID, key, jobs, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	summary := Summary{Total: len(pending)}
	for out := range results {
		if out.failure == "" {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.Failures = append(summary.Failures, FailureDetail{OriginID: out.originID, Reason: out.failure})
		}
	}
	return summary, nil
}

func (o *Orchestrator) drain(ctx context.Context, runID string, key isochrone.CacheKey, jobs <-chan job, results chan<- outcome) {
	for j := range jobs {
		workerURL := o.fleet.Worker(j.index)
		results <- o.processOne(ctx, runID, key, j.origin, workerURL)
	}
}

// processOne drives one origin through the state machine: processing
// -> (bands saved, completed) | failed. It never panics or returns an
// error itself; every failure mode is recorded as an outcome so one
// origin's trouble never aborts the batch.
func (o *Orchestrator) processOne(ctx context.Context, runID string, key isochrone.CacheKey, origin isochrone.Origin, workerURL string) outcome {
	log := o.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"origin_id": origin.ID,
		"mode":      key.Mode,
		"worker":    workerURL,
	})

	o.metrics.batchInProgress.Inc()
	defer o.metrics.batchInProgress.Dec()
	start := o.clock.Now()

	if err := o.store.MarkProcessing(ctx, origin.ID, key); err != nil {
		log.WithError(err).Error("mark processing failed")
		return outcome{originID: origin.ID, failure: err.Error()}
	}

	geoms, err := o.routing.ComputeIsochrones(ctx, workerURL, origin, key, o.cutoffs)
	if err != nil {
		return o.fail(ctx, log, key, origin, fmt.Sprintf("routing worker: %v", err))
	}

	// A routing worker that silently truncated its response leaves the
	// widest-cutoff band with no coordinates. Treat that the same as a
	// hard failure rather than caching a band set missing its widest ring.
	widestBand, ok := geoms[o.widestCutoff()]
	if !ok || !isochrone.HasCoordinates(widestBand) {
		return o.fail(ctx, log, key, origin, isochrone.ErrEmptyIsochrone.Error())
	}

	if err := o.store.SaveIsochrone(ctx, origin.ID, key, geoms); err != nil {
		return o.fail(ctx, log, key, origin, fmt.Sprintf("saving bands: %v", err))
	}
	if err := o.store.MarkCompleted(ctx, origin.ID, key); err != nil {
		return o.fail(ctx, log, key, origin, fmt.Sprintf("mark completed: %v", err))
	}

	o.metrics.originsProcessed.WithLabelValues(string(key.Mode)).Inc()
	o.metrics.originDuration.Observe(o.clock.Now().Sub(start).Seconds())
	log.Info("origin completed")
	return outcome{originID: origin.ID}
}

// widestCutoff returns the largest configured cutoff, the one whose band
// covers the most area and so is the last to go empty.
func (o *Orchestrator) widestCutoff() int {
	widest := o.cutoffs[0]
	for _, c := range o.cutoffs {
		if c > widest {
			widest = c
		}
	}
	return widest
}

func (o *Orchestrator) fail(ctx context.Context, log *logrus.Entry, key isochrone.CacheKey, origin isochrone.Origin, reason string) outcome {
	if err := o.store.MarkFailed(ctx, origin.ID, key, reason); err != nil {
		log.WithError(err).Error("mark failed also failed")
	}
	o.metrics.originsFailed.WithLabelValues(string(key.Mode)).Inc()
	log.WithField("reason", reason).Warn("origin failed")
	return outcome{originID: origin.ID, failure: reason}
}

// RetryFailed moves every failed origin under key back to pending, so
// the next RunBatch call picks them up again.
func (o *Orchestrator) RetryFailed(ctx context.Context, key isochrone.CacheKey) (int64, error) {
	return o.store.ResetFailed(ctx, key)
}
