// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package routingclient is a stateless wrapper over a single routing
// worker's HTTP endpoint. It knows how to request a multi-cutoff
// isochrone, detect the worker's known multi-cutoff degeneracy, and fall
// back to per-cutoff requests run in parallel.
package routingclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/paulmach/orb"

	"github.com/ahmed-machine/howfar/isochrone"
)

// DefaultTimeout is used when Client is created with a non-positive
// timeout; both connect and read timeouts share this one value.
const DefaultTimeout = 60 * time.Second

// Client issues HTTP requests against a routing worker's
// /otp/traveltime/isochrone endpoint. It does not retry; retry is the
// orchestrator's concern.
type Client struct {
	httpClient *http.Client
}

// New creates a Client with a shared *http.Client and connection pool,
// per-route cap 10, total pool 40.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxIdleConns:        40,
			},
		},
	}
}

// ComputeIsochrones requests isochrone bands for a single origin, cache
// key, and worker. It first issues one request carrying every cutoff; if
// the worker's response collapses to fewer than two distinct geometries
// (a known worker defect), it falls back to one request per cutoff,
// run in parallel, tolerating individual per-cutoff failures.
//
// The returned map contains only the cutoffs the worker actually
// produced; it is the orchestrator's job to validate completeness
// before persisting.
func (c *Client) ComputeIsochrones(ctx context.Context, workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (map[int]orb.Geometry, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("routingclient: %w", err)
	}

	reqURL, err := c.buildURL(workerBaseURL, origin, key, cutoffs)
	if err != nil {
		return nil, fmt.Errorf("routingclient: building request: %w", err)
	}
	body, err := c.fetch(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("routingclient: multi-cutoff request: %w", err)
	}
	geoms, err := isochrone.ParseWorkerResponse(body)
	if err != nil {
		return nil, fmt.Errorf("routingclient: %w", err)
	}

	if isochrone.DistinctGeometryCount(geoms) >= 2 {
		return geoms, nil
	}

	// Known degeneracy: the SPT projection collapsed to one shape
	// across every cutoff. Fall back to one request per cutoff.
	return c.computePerCutoff(ctx, workerBaseURL, origin, key, cutoffs)
}

// computePerCutoff issues one isochrone request per cutoff, in parallel,
// and merges whichever succeed.
func (c *Client) computePerCutoff(ctx context.Context, workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (map[int]orb.Geometry, error) {
	type outcome struct {
		cutoff int
		geom   orb.Geometry
		err    error
	}

	results := make(chan outcome, len(cutoffs))
	var wg sync.WaitGroup
	for _, cutoff := range cutoffs {
		wg.Add(1)
		go func(cutoff int) {
			defer wg.Done()
			reqURL, err := c.buildURL(workerBaseURL, origin, key, []int{cutoff})
			if err != nil {
				results <- outcome{cutoff: cutoff, err: err}
				return
			}
			body, err := c.fetch(ctx, reqURL)
			if err != nil {
				results <- outcome{cutoff: cutoff, err: err}
				return
			}
			geoms, err := isochrone.ParseWorkerResponse(body)
			if err != nil {
				results <- outcome{cutoff: cutoff, err: err}
				return
			}
			geom, ok := geoms[cutoff]
			if !ok {
				// Worker returned a feature set not keyed the
				// way we expect; take whatever single feature
				// it sent back for this single-cutoff request.
				for _, g := range geoms {
					geom = g
					break
				}
			}
			results <- outcome{cutoff: cutoff, geom: geom}
		}(cutoff)
	}
	wg.Wait()
	close(results)

	merged := make(map[int]orb.Geometry, len(cutoffs))
	for r := range results {
		if r.err != nil {
			// Tolerated individually; other cutoffs may still succeed.
			continue
		}
		if r.geom != nil {
			merged[r.cutoff] = r.geom
		}
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("routingclient: per-cutoff fallback produced no results")
	}
	return merged, nil
}

// buildURL assembles a worker request URL from a URI template, matching
// the upstream work-queue REST client's approach to resource URL
// construction.
func (c *Client) buildURL(workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (string, error) {
	reqTime, err := isochrone.RequestTime(key.DayType, key.Departure)
	if err != nil {
		return "", err
	}

	tmpl, err := uritemplates.Parse(workerBaseURL + "/otp/traveltime/isochrone{?batch,location,time}")
	if err != nil {
		return "", err
	}
	expanded, err := tmpl.Expand(map[string]interface{}{
		"batch":    "true",
		"location": fmt.Sprintf("%g,%g", origin.Lat, origin.Lng),
		"time":     reqTime,
	})
	if err != nil {
		return "", err
	}

	u, err := url.Parse(expanded)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, cutoff := range cutoffs {
		q.Add("cutoff", fmt.Sprintf("PT%dM", cutoff))
	}
	for name, value := range key.Mode.WorkerParams() {
		q.Set(name, value)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetch performs the GET and returns the response body, collapsing every
// failure mode (network error, non-200 status) into a single error.
func (c *Client) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
