package geo

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"poi-server/models"
)

// A closed ring needs at least four positions, the last repeating the first.
const minRingPositions = 4

type geometryObject struct {
	Type        *string         `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseRegion decodes a GeoJSON Polygon or MultiPolygon. Open rings are closed by repeating their
// first position. Every failure wraps ErrInvalidRegion.
func ParseRegion(data []byte) (Region, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Region{}, errors.Wrap(ErrInvalidRegion, "missing region body")
	}
	if trimmed[0] != '{' {
		return Region{}, errors.Wrap(ErrInvalidRegion, "region must be a JSON object")
	}

	var obj geometryObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Region{}, errors.Wrapf(ErrInvalidRegion, "malformed JSON: %s", err.Error())
	}
	if obj.Type == nil {
		return Region{}, errors.Wrap(ErrInvalidRegion, "missing type")
	}
	coords := bytes.TrimSpace(obj.Coordinates)
	if len(coords) == 0 || bytes.Equal(coords, []byte("null")) {
		return Region{}, errors.Wrap(ErrInvalidRegion, "missing coordinates")
	}

	switch *obj.Type {
	case "Polygon":
		var rings [][][]*float64
		if err := json.Unmarshal(coords, &rings); err != nil {
			return Region{}, errors.Wrapf(ErrInvalidRegion, "polygon coordinates: %s", err.Error())
		}
		polygon, err := buildPolygon(rings)
		if err != nil {
			return Region{}, err
		}
		return Region{Kind: RegionPolygon, Geometry: polygon, SRID: models.SRID}, nil
	case "MultiPolygon":
		var polygons [][][][]*float64
		if err := json.Unmarshal(coords, &polygons); err != nil {
			return Region{}, errors.Wrapf(ErrInvalidRegion, "multipolygon coordinates: %s", err.Error())
		}
		if len(polygons) == 0 {
			return Region{}, errors.Wrap(ErrInvalidRegion, "multipolygon has no polygons")
		}
		multi := make(orb.MultiPolygon, 0, len(polygons))
		for i, rings := range polygons {
			polygon, err := buildPolygon(rings)
			if err != nil {
				return Region{}, errors.Wrapf(err, "polygon %d", i)
			}
			multi = append(multi, polygon)
		}
		return Region{Kind: RegionMultiPolygon, Geometry: multi, SRID: models.SRID}, nil
	default:
		return Region{}, errors.Wrapf(ErrInvalidRegion, "unsupported geometry type %q", *obj.Type)
	}
}

func buildPolygon(rings [][][]*float64) (orb.Polygon, error) {
	if len(rings) == 0 {
		return nil, errors.Wrap(ErrInvalidRegion, "polygon has no rings")
	}
	polygon := make(orb.Polygon, 0, len(rings))
	for i, positions := range rings {
		ring, err := buildRing(positions)
		if err != nil {
			return nil, errors.Wrapf(err, "ring %d", i)
		}
		polygon = append(polygon, ring)
	}
	return polygon, nil
}

func buildRing(positions [][]*float64) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(positions)+1)
	for i, position := range positions {
		if len(position) < 2 || position[0] == nil || position[1] == nil {
			return nil, errors.Wrapf(ErrInvalidRegion, "position %d needs two numeric ordinates", i)
		}
		lon, lat := *position[0], *position[1]
		if !finite(lon) || !finite(lat) {
			return nil, errors.Wrapf(ErrInvalidRegion, "position %d is not finite", i)
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	if len(ring) == 0 {
		return nil, errors.Wrap(ErrInvalidRegion, "empty ring")
	}
	if !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	if len(ring) < minRingPositions {
		return nil, errors.Wrapf(ErrInvalidRegion, "ring has %d positions, need at least %d", len(ring), minRingPositions)
	}
	return ring, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
