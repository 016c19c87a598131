package geo

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// ParseBBox parses "west,south,east,north". Swapped edges are normalized, so the returned
// bound always has Min <= Max.
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.Wrapf(ErrInvalidRegion, "bbox needs 4 values, got %d", len(parts))
	}

	var v [4]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || !finite(f) {
			return orb.Bound{}, errors.Wrapf(ErrInvalidRegion, "bbox value %d (%q) is not a number", i, strings.TrimSpace(part))
		}
		v[i] = f
	}

	west, south, east, north := v[0], v[1], v[2], v[3]
	return orb.Bound{
		Min: orb.Point{min(west, east), min(south, north)},
		Max: orb.Point{max(west, east), max(south, north)},
	}, nil
}
