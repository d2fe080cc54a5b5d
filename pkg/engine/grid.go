package engine

import "math"

// gridCellDeg is the spatial index cell size in degrees. One degree
// of latitude is about 60 nm, comfortably larger than typical
// latlongring radii, so most cells hold at most a couple of rules.
const gridCellDeg = 1.0

// lonCells is the number of longitude columns in one trip around the
// globe.
const lonCells = int(360 / gridCellDeg)

// gridIndex accelerates latlongring rules: each rule's ring bounding
// box is registered in every 1-degree cell it intersects, and a point
// only considers ring rules registered in its own cell. Rules without
// a ring are always considered, so enabling the index is behaviorally
// transparent.
type gridIndex struct {
	cells map[[2]int][]int // cell -> ring-rule indices
}

func buildGridIndex(rules []*Rule) *gridIndex {
	g := &gridIndex{cells: make(map[[2]int][]int)}
	for _, r := range rules {
		if r.ringBounds == nil {
			continue
		}
		b := r.ringBounds
		minLat := int(math.Floor(b.minLat / gridCellDeg))
		maxLat := int(math.Ceil(b.maxLat / gridCellDeg))
		minLon := int(math.Floor(b.minLon / gridCellDeg))
		maxLon := int(math.Ceil(b.maxLon / gridCellDeg))
		if maxLon-minLon+1 >= lonCells {
			// Polar rings circle the globe; every column holds them.
			minLon, maxLon = -lonCells/2, lonCells/2-1
		}
		for la := minLat; la <= maxLat; la++ {
			for lo := minLon; lo <= maxLon; lo++ {
				// The column index wraps so a ring straddling the
				// antimeridian registers in the cells on both sides.
				cell := [2]int{la, wrapLonCell(lo)}
				g.cells[cell] = append(g.cells[cell], r.Index)
			}
		}
	}
	return g
}

// candidates returns the set of ring-rule indices whose cell covers
// the point. Ring rules not in the set cannot match and may be
// skipped; non-ring rules are unaffected.
func (g *gridIndex) candidates(lat, lon float64) map[int]bool {
	cell := [2]int{
		int(math.Floor(lat / gridCellDeg)),
		wrapLonCell(int(math.Floor(lon / gridCellDeg))),
	}
	idxs := g.cells[cell]
	set := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		set[i] = true
	}
	return set
}

// wrapLonCell folds a longitude column index into [-180, 180).
func wrapLonCell(lo int) int {
	lo %= lonCells
	if lo < -lonCells/2 {
		lo += lonCells
	} else if lo >= lonCells/2 {
		lo -= lonCells
	}
	return lo
}
