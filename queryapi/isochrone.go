// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"context"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
)

// cachedBandsStore is the subset of *store.Store the by-id isochrone
// lookup needs.
type cachedBandsStore interface {
	OriginByID(ctx context.Context, id int64) (isochrone.Origin, error)
	CachedIsochrone(ctx context.Context, originID int64, key isochrone.CacheKey) (isochrone.BandSet, error)
}

// IsochroneOptions are the parameters accepted by Isochrone.
type IsochroneOptions struct {
	Mode      string `mapstructure:"mode"`
	Departure string `mapstructure:"time"`
	DayType   string `mapstructure:"dayType"`
}

// Isochrone returns the band set for a specific, already-known origin
// id (e.g. a saved/bookmarked origin rather than a fresh click).
// Returns isochrone.ErrNoSuchOrigin or isochrone.ErrCacheMiss (both 404).
func Isochrone(ctx context.Context, s cachedBandsStore, originID int64, params map[string]string) (map[string]interface{}, error) {
	origin, err := s.OriginByID(ctx, originID)
	if err != nil {
		return nil, err
	}

	var opts IsochroneOptions
	if err := decode(params, &opts); err != nil {
		return nil, fmt.Errorf("queryapi: isochrone: %w", err)
	}
	key := isochrone.CacheKey{
		Mode:      isochrone.Mode(defaultString(opts.Mode, string(isochrone.ModeTransit))),
		Departure: defaultString(opts.Departure, "10:00:00"),
		DayType:   isochrone.DayType(defaultString(opts.DayType, string(isochrone.DayWeekday))),
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	bands, err := s.CachedIsochrone(ctx, originID, key)
	if err != nil {
		return nil, err
	}

	resp := map[string]interface{}{
		"origin_id": origin.ID,
		"name":      origin.Name,
		"source":    "cache",
	}
	for k, v := range bandsToResponse(bands) {
		resp[k] = v
	}
	return resp, nil
}
