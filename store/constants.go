// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package store

// Table names.
const (
	intersectionsTable = "intersections"
	bandsTable         = "isochrone_bands"
	batchStatusTable   = "batch_status"
	landBoundaryTable  = "land_boundary"
	transitStopsTable  = "transit_stops"
)

// StaleHorizonMultiplier is the suggested default for the stale-horizon
// used to decide whether a "processing" row has been abandoned: twice
// the routing worker's socket timeout.
const StaleHorizonMultiplier = 2
