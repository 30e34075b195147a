// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"context"
	"fmt"

	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/store"
)

// transitStore is the subset of *store.Store the transit-stop
// endpoints need.
type transitStore interface {
	TransitStopsInViewport(ctx context.Context, bbox store.BBox, limit int) ([]isochrone.TransitStop, error)
	NearbyTransitStops(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]isochrone.TransitStop, error)
}

const (
	defaultTransitLimit  = 500
	defaultNearbyRadiusM = 800.0 // roughly a 10-minute walk
)

// ViewportOptions fields reused verbatim (minLat/maxLat/minLng/maxLng/limit).
type viewportBoxOptions struct {
	MinLat float64 `mapstructure:"minLat"`
	MaxLat float64 `mapstructure:"maxLat"`
	MinLng float64 `mapstructure:"minLng"`
	MaxLng float64 `mapstructure:"maxLng"`
	Limit  int     `mapstructure:"limit"`
}

// ViewportTransitStops lists transit stops inside a bounding box.
func ViewportTransitStops(ctx context.Context, s transitStore, params map[string]string) ([]TransitStopResponse, error) {
	var opts viewportBoxOptions
	if err := decode(params, &opts); err != nil {
		return nil, fmt.Errorf("queryapi: viewport transit stops: %w", err)
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultTransitLimit
	}

	bbox := store.BBox{MinLat: opts.MinLat, MaxLat: opts.MaxLat, MinLng: opts.MinLng, MaxLng: opts.MaxLng}
	stops, err := s.TransitStopsInViewport(ctx, bbox, opts.Limit)
	if err != nil {
		return nil, err
	}
	return transitStopResponses(stops), nil
}

// NearbyOptions are the parameters accepted by NearbyTransitStops.
type NearbyOptions struct {
	RadiusMeters float64 `mapstructure:"radius"`
	Limit        int     `mapstructure:"limit"`
}

// NearbyTransitStops lists transit stops within a radius of a point,
// nearest first.
func NearbyTransitStops(ctx context.Context, s transitStore, params map[string]string) ([]TransitStopResponse, error) {
	lat, lng, err := parseLatLng(params)
	if err != nil {
		return nil, err
	}

	var opts NearbyOptions
	if err := decode(params, &opts); err != nil {
		return nil, fmt.Errorf("queryapi: nearby transit stops: %w", err)
	}
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = defaultNearbyRadiusM
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultTransitLimit
	}

	stops, err := s.NearbyTransitStops(ctx, lat, lng, opts.RadiusMeters, opts.Limit)
	if err != nil {
		return nil, err
	}
	return transitStopResponses(stops), nil
}

func transitStopResponses(stops []isochrone.TransitStop) []TransitStopResponse {
	resp := make([]TransitStopResponse, len(stops))
	for i, stop := range stops {
		resp[i] = transitStopResponse(stop)
	}
	return resp
}
