// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"context"

	"github.com/ahmed-machine/howfar/store"
)

// statsStore is the subset of *store.Store the stats endpoint needs.
type statsStore interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// Stats returns batch-progress counters for the /api/stats endpoint.
func Stats(ctx context.Context, s statsStore) (*store.Stats, error) {
	return s.Stats(ctx)
}
