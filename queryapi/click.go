// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"context"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/store"
)

// nearestStore is the subset of *store.Store the click path needs.
type nearestStore interface {
	NearestWithIsochrone(ctx context.Context, lat, lng float64, key isochrone.CacheKey) (*store.NearestResult, error)
	NearestWithBothModes(ctx context.Context, lat, lng float64, departure string, dayType isochrone.DayType) (*store.BothModesResult, error)
}

// ClickOptions are the non-coordinate parameters accepted by Click.
type ClickOptions struct {
	Mode      string `mapstructure:"mode"`
	Departure string `mapstructure:"time"`
	DayType   string `mapstructure:"dayType"`
}

// Click handles the map-click query: given a point and optional
// mode/time/day-type, return the nearest cached origin's band set.
// When Mode is "compare", it instead returns both transit and bike
// band sets for the nearest origin with both. Returns
// isochrone.ErrMissingCoordinates (400) or isochrone.ErrCacheMiss (404).
func Click(ctx context.Context, s nearestStore, params map[string]string) (map[string]interface{}, error) {
	lat, lng, err := parseLatLng(params)
	if err != nil {
		return nil, err
	}

	var opts ClickOptions
	if err := decode(params, &opts); err != nil {
		return nil, fmt.Errorf("queryapi: click: %w", err)
	}
	departure := defaultString(opts.Departure, "10:00:00")
	dayType := isochrone.DayType(defaultString(opts.DayType, string(isochrone.DayWeekday)))
	mode := defaultString(opts.Mode, string(isochrone.ModeTransit))

	if mode == "compare" {
		result, err := s.NearestWithBothModes(ctx, lat, lng, departure, dayType)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"origin_id": result.Origin.ID,
			"name":      result.Origin.Name,
			"source":    "cache",
			"transit":   bandsToResponse(result.Transit),
			"bike":      bandsToResponse(result.Bike),
		}, nil
	}

	key := isochrone.CacheKey{Mode: isochrone.Mode(mode), Departure: departure, DayType: dayType}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	result, err := s.NearestWithIsochrone(ctx, lat, lng, key)
	if err != nil {
		return nil, err
	}
	resp := map[string]interface{}{
		"origin_id": result.Origin.ID,
		"name":      result.Origin.Name,
		"source":    "cache",
	}
	for k, v := range bandsToResponse(result.Bands) {
		resp[k] = v
	}
	return resp, nil
}
