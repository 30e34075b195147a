// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package isochrone defines the core domain types shared by the batch
// isochrone pipeline: origins, cache keys, isochrone bands, and batch
// status. It has no knowledge of HTTP or SQL; beyond plain data and
// validation, it holds the routing worker's wire-format helpers (mode
// parameters, request time, response parsing).
package isochrone

import (
	"time"

	"github.com/paulmach/orb"
)

// Mode identifies a travel mode a routing worker can compute isochrones
// for.
type Mode string

// Canonical travel modes. These are the only modes the routing client
// knows how to translate into worker query parameters.
const (
	ModeTransit     Mode = "transit"
	ModeTransitBike Mode = "transit+bike"
	ModeBike        Mode = "bike"
	ModeWalk        Mode = "walk"
)

// Modes lists every supported mode, in a stable order.
var Modes = []Mode{ModeTransit, ModeTransitBike, ModeBike, ModeWalk}

// Valid reports whether m is one of the canonical modes.
func (m Mode) Valid() bool {
	for _, candidate := range Modes {
		if m == candidate {
			return true
		}
	}
	return false
}

// DayType identifies which calendar classification a departure time is
// evaluated against.
type DayType string

// Canonical day types.
const (
	DayWeekday DayType = "weekday"
	DaySaturday DayType = "saturday"
	DaySunday   DayType = "sunday"
)

// DayTypes lists every supported day type, in a stable order.
var DayTypes = []DayType{DayWeekday, DaySaturday, DaySunday}

// Valid reports whether d is one of the canonical day types.
func (d DayType) Valid() bool {
	for _, candidate := range DayTypes {
		if d == candidate {
			return true
		}
	}
	return false
}

// CanonicalCutoffs is the fixed set of cutoff minutes a fully-cached cache
// key must have bands for. Order matters for response assembly (§6's
// isochrone_15m..isochrone_180m keys) but not for set-membership checks.
var CanonicalCutoffs = []int{15, 30, 45, 60, 90, 120, 150, 180}

// IsCanonicalCutoff reports whether minutes is one of CanonicalCutoffs.
func IsCanonicalCutoff(minutes int) bool {
	for _, c := range CanonicalCutoffs {
		if c == minutes {
			return true
		}
	}
	return false
}

// Origin is a single street intersection eligible for isochrone
// computation. Origins are immutable after ingest.
type Origin struct {
	ID          int64
	OSMNodeID   int64
	Name        string
	Lat         float64
	Lng         float64
	Borough     string
	SampleGroup int
}

// Point returns the origin's location as an orb.Point (lng, lat order,
// matching orb/GeoJSON convention).
func (o Origin) Point() orb.Point {
	return orb.Point{o.Lng, o.Lat}
}

// CacheKey identifies a single computation request, independent of
// origin: the (mode, departure time-of-day, day type) triple.
type CacheKey struct {
	Mode      Mode
	Departure string // "HH:MM:SS", time-of-day only
	DayType   DayType
}

// Valid reports whether every field of the key is well-formed.
func (k CacheKey) Valid() bool {
	if !k.Mode.Valid() || !k.DayType.Valid() {
		return false
	}
	_, err := time.Parse("15:04:05", k.Departure)
	return err == nil
}

// Band is a single isochrone at a single cutoff for a single
// (origin, cache key) pair.
type Band struct {
	OriginID          int64
	Mode              Mode
	Departure         string
	DayType           DayType
	CutoffMinutes     int
	Geometry          orb.Geometry // clipped to land, or a copy of Unclipped
	GeometryUnclipped orb.Geometry
	ComputedAt        time.Time
}

// BandSet is the eight (or fewer, mid-computation) bands for one
// (origin, cache key) pair, keyed by cutoff minutes.
type BandSet map[int]Band

// Complete reports whether the set has exactly one band for every
// canonical cutoff.
func (bs BandSet) Complete() bool {
	if len(bs) != len(CanonicalCutoffs) {
		return false
	}
	for _, c := range CanonicalCutoffs {
		if _, ok := bs[c]; !ok {
			return false
		}
	}
	return true
}

// BatchStatusValue is the state of a (origin, cache key) pair in the
// batch state machine.
type BatchStatusValue string

// Batch states. Absent row is equivalent to Pending.
const (
	StatusPending    BatchStatusValue = "pending"
	StatusProcessing BatchStatusValue = "processing"
	StatusCompleted  BatchStatusValue = "completed"
	StatusFailed     BatchStatusValue = "failed"
)

// BatchStatus is one row of the batch_status table.
type BatchStatus struct {
	OriginID     int64
	Mode         Mode
	Departure    string
	DayType      DayType
	Status       BatchStatusValue
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

// TransitStop is served raw by the query layer; it has no relationship
// to isochrone computation.
type TransitStop struct {
	ID         int64
	GTFSStopID string
	Name       string
	Lat        float64
	Lng        float64
	StopType   string
	Agency     string
}

// PendingOrigin wraps one origin selected by the pending-origin query.
// It carries no worker assignment; the orchestrator derives that from
// the origin's position in the batch (i mod N).
type PendingOrigin struct {
	Origin Origin
}
