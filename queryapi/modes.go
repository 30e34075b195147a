// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package queryapi

import "github.com/ahmed-machine/howfar/isochrone"

// Modes returns the travel modes the batch pipeline computes
// isochrones for, in a stable order, for the /api/modes endpoint.
func Modes() []string {
	modes := make([]string, len(isochrone.Modes))
	for i, m := range isochrone.Modes {
		modes[i] = string(m)
	}
	return modes
}
