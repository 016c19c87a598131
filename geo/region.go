package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

var ErrInvalidRegion = errors.New("invalid region")

type RegionKind int

const (
	RegionInvalid RegionKind = iota
	RegionPolygon
	RegionMultiPolygon
)

func (k RegionKind) String() string {
	switch k {
	case RegionPolygon:
		return "Polygon"
	case RegionMultiPolygon:
		return "MultiPolygon"
	default:
		return "Invalid"
	}
}

// Region is a validated query area. Geometry is an orb.Polygon for RegionPolygon and an
// orb.MultiPolygon for RegionMultiPolygon.
type Region struct {
	Kind     RegionKind
	Geometry orb.Geometry
	SRID     int
}

func (r Region) WKT() string {
	return wkt.MarshalString(r.Geometry)
}

func (r Region) EWKT() string {
	return fmt.Sprintf("SRID=%d;%s", r.SRID, r.WKT())
}

func (r Region) Bound() orb.Bound {
	if r.Geometry == nil {
		return orb.Bound{}
	}
	return r.Geometry.Bound()
}

// Within reports whether p lies in the interior of the region. Points on a ring are not within.
func (r Region) Within(p orb.Point) bool {
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return polygonWithin(g, p)
	case orb.MultiPolygon:
		for _, polygon := range g {
			if polygonWithin(polygon, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func polygonWithin(polygon orb.Polygon, p orb.Point) bool {
	for _, ring := range polygon {
		if onRing(ring, p) {
			return false
		}
	}
	return planar.PolygonContains(polygon, p)
}

func onRing(ring orb.Ring, p orb.Point) bool {
	for i := 1; i < len(ring); i++ {
		if onSegment(ring[i-1], ring[i], p) {
			return true
		}
	}
	return false
}

func onSegment(a, b, p orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}
