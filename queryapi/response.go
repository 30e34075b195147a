// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/ahmed-machine/howfar/isochrone"
)

// bandsToResponse assembles the isochrone_15m..isochrone_180m response
// keys, each a GeoJSON geometry (or nil for any cutoff not yet cached).
func bandsToResponse(bands isochrone.BandSet) map[string]interface{} {
	out := make(map[string]interface{}, len(isochrone.CanonicalCutoffs))
	for _, cutoff := range isochrone.CanonicalCutoffs {
		key := fmt.Sprintf("isochrone_%dm", cutoff)
		band, ok := bands[cutoff]
		if !ok {
			out[key] = nil
			continue
		}
		out[key] = geojson.NewGeometry(band.Geometry)
	}
	return out
}

// OriginResponse is one row of a viewport listing.
type OriginResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Borough     string  `json:"borough"`
	IsComputed  bool    `json:"is_computed"`
	SampleGroup int     `json:"sample_group"`
}

// TransitStopResponse is one row of a transit-stop listing.
type TransitStopResponse struct {
	ID       int64   `json:"id"`
	StopID   string  `json:"gtfs_stop_id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	StopType string  `json:"stop_type"`
	Agency   string  `json:"agency"`
}

func transitStopResponse(t isochrone.TransitStop) TransitStopResponse {
	return TransitStopResponse{
		ID: t.ID, StopID: t.GTFSStopID, Name: t.Name, Lat: t.Lat, Lng: t.Lng,
		StopType: t.StopType, Agency: t.Agency,
	}
}
