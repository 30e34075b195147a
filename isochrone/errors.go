// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package isochrone

import "errors"

// Sentinel errors returned by the store and query layers. Callers should
// use errors.Is against these rather than comparing strings.
var (
	// ErrCacheMiss indicates a nearest-origin lookup found no origin
	// with any cached band for the requested cache key.
	ErrCacheMiss = errors.New("isochrone: no cached origin for this request")

	// ErrNoSuchOrigin indicates an origin id does not exist.
	ErrNoSuchOrigin = errors.New("isochrone: no such origin")

	// ErrInvalidCacheKey indicates a cache key failed validation
	// (unknown mode, unknown day type, or malformed departure time).
	ErrInvalidCacheKey = errors.New("isochrone: invalid cache key")

	// ErrEmptyIsochrone indicates a successful routing-client response
	// whose 180-minute band had no reachable area; recorded as a
	// failed batch status with this reason.
	ErrEmptyIsochrone = errors.New("empty isochrone - no reachable area")

	// ErrFleetUnhealthy indicates WaitForFleet exhausted its attempts
	// without a worker responding healthy.
	ErrFleetUnhealthy = errors.New("isochrone: worker fleet never became healthy")

	// ErrMissingCoordinates indicates a query-layer request was missing
	// or had non-numeric lat/lng parameters (maps to HTTP 400).
	ErrMissingCoordinates = errors.New("isochrone: missing or invalid lat/lng")
)
