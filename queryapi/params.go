// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package queryapi is the read layer: pure functions over the cache
// store that parse loosely-typed query parameters, call the store, and
// assemble response objects. It never touches net/http or
// *http.Request; the thin HTTP façade in cmd/serve is the only thing
// that knows about the wire format.
package queryapi

import (
	"strconv"

	"github.com/mitchellh/mapstructure"

	"github.com/ahmed-machine/howfar/isochrone"
)

// decode fills out from a loosely-typed parameter map (as parsed from a
// URL query string, so every value arrives as a string) using
// mapstructure's weakly-typed mode, mirroring the upstream work-queue's
// GetWorkOptions decode step.
func decode(params map[string]string, out interface{}) error {
	config := mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(&config)
	if err != nil {
		return err
	}
	generic := make(map[string]interface{}, len(params))
	for k, v := range params {
		generic[k] = v
	}
	return decoder.Decode(generic)
}

// parseLatLng extracts and validates the "lat"/"lng" query parameters,
// present on every endpoint that takes a point. Returns
// isochrone.ErrMissingCoordinates (maps to HTTP 400) if either is
// absent or non-numeric.
func parseLatLng(params map[string]string) (lat, lng float64, err error) {
	latStr, ok := params["lat"]
	if !ok {
		return 0, 0, isochrone.ErrMissingCoordinates
	}
	lngStr, ok := params["lng"]
	if !ok {
		return 0, 0, isochrone.ErrMissingCoordinates
	}
	lat, err = strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, isochrone.ErrMissingCoordinates
	}
	lng, err = strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, isochrone.ErrMissingCoordinates
	}
	return lat, lng, nil
}

// defaultString returns value if non-empty, else fallback.
func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
