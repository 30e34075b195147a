// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import "context"

// healthStore is the subset of *store.Store the health endpoint needs.
type healthStore interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable, for the /api/health
// endpoint.
func Health(ctx context.Context, s healthStore) error {
	return s.Ping(ctx)
}
