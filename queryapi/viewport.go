// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"context"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/store"
)

// viewportStore is the subset of *store.Store the viewport listing needs.
type viewportStore interface {
	IntersectionsInViewport(ctx context.Context, bbox store.BBox, limit int, key isochrone.CacheKey, sampleGroup *int) ([]store.OriginWithStatus, error)
}

const defaultViewportLimit = 500

// ViewportOptions are the parameters accepted by ViewportIntersections.
type ViewportOptions struct {
	MinLat      float64 `mapstructure:"minLat"`
	MaxLat      float64 `mapstructure:"maxLat"`
	MinLng      float64 `mapstructure:"minLng"`
	MaxLng      float64 `mapstructure:"maxLng"`
	Limit       int     `mapstructure:"limit"`
	Mode        string  `mapstructure:"mode"`
	Departure   string  `mapstructure:"time"`
	DayType     string  `mapstructure:"dayType"`
	SampleGroup *int    `mapstructure:"sampleGroup"`
}

// ViewportIntersections lists origins inside a bounding box, each
// flagged with whether it already has a computed band set under the
// requested cache key.
func ViewportIntersections(ctx context.Context, s viewportStore, params map[string]string) ([]OriginResponse, error) {
	var opts ViewportOptions
	if err := decode(params, &opts); err != nil {
		return nil, fmt.Errorf("queryapi: viewport intersections: %w", err)
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultViewportLimit
	}

	key := isochrone.CacheKey{
		Mode:      isochrone.Mode(defaultString(opts.Mode, string(isochrone.ModeTransit))),
		Departure: defaultString(opts.Departure, "10:00:00"),
		DayType:   isochrone.DayType(defaultString(opts.DayType, string(isochrone.DayWeekday))),
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	bbox := store.BBox{MinLat: opts.MinLat, MaxLat: opts.MaxLat, MinLng: opts.MinLng, MaxLng: opts.MaxLng}
	rows, err := s.IntersectionsInViewport(ctx, bbox, opts.Limit, key, opts.SampleGroup)
	if err != nil {
		return nil, err
	}

	resp := make([]OriginResponse, len(rows))
	for i, row := range rows {
		resp[i] = OriginResponse{
			ID: row.Origin.ID, Name: row.Origin.Name, Lat: row.Origin.Lat, Lng: row.Origin.Lng,
			Borough: row.Origin.Borough, SampleGroup: row.Origin.SampleGroup, IsComputed: row.IsComputed,
		}
	}
	return resp, nil
}
