// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package isochrone

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParseWorkerResponse decodes a routing worker's isochrone
// FeatureCollection into a map of cutoff-minutes to geometry. Each
// feature's properties.time is a decimal string of seconds; it is
// integer-divided by 60 to get the cutoff.
//
// An empty or malformed feature collection returns an error; this is
// one of the routing client's single string-valued error failure modes.
func ParseWorkerResponse(data []byte) (map[int]orb.Geometry, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("isochrone: malformed feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("isochrone: empty feature collection")
	}

	result := make(map[int]orb.Geometry, len(fc.Features))
	for _, f := range fc.Features {
		seconds, err := featureTimeSeconds(f)
		if err != nil {
			return nil, fmt.Errorf("isochrone: malformed feature properties: %w", err)
		}
		cutoff := int(seconds) / 60
		result[cutoff] = f.Geometry
	}
	return result, nil
}

// featureTimeSeconds reads the numeric "time" property (a decimal
// string, per the worker's wire format) off a feature.
func featureTimeSeconds(f *geojson.Feature) (float64, error) {
	raw, ok := f.Properties["time"]
	if !ok {
		return 0, fmt.Errorf("feature missing \"time\" property")
	}
	switch v := raw.(type) {
	case string:
		seconds, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric \"time\" property %q: %w", v, err)
		}
		return seconds, nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("unexpected type for \"time\" property: %T", raw)
	}
}

// DistinctGeometryCount reports how many structurally distinct
// geometries appear in the values of geoms. Used to detect a known
// worker defect where the SPT projection collapses to one shape
// across every cutoff.
func DistinctGeometryCount(geoms map[int]orb.Geometry) int {
	seen := make(map[string]struct{}, len(geoms))
	for _, g := range geoms {
		key, err := geometryFingerprint(g)
		if err != nil {
			continue
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}

// geometryFingerprint produces a value suitable for equality comparison
// between two geometries, by round-tripping through GeoJSON.
func geometryFingerprint(g orb.Geometry) (string, error) {
	b, err := json.Marshal(geojson.NewGeometry(g))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HasCoordinates reports whether a geometry has at least one coordinate;
// used to detect the empty-180-minute-band truncation case.
func HasCoordinates(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	switch v := g.(type) {
	case orb.Polygon:
		return len(v) > 0 && len(v[0]) > 0
	case orb.MultiPolygon:
		for _, poly := range v {
			if len(poly) > 0 && len(poly[0]) > 0 {
				return true
			}
		}
		return false
	default:
		return !g.Bound().IsEmpty()
	}
}
