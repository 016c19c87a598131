package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SRID = 4326

	NameMaxLength        = 512
	CategoryMaxLength    = 64
	DataVersionMaxLength = 32
	SourceMaxLength      = 512
)

// PointOfInterest is a stored catalog entry. It belongs to exactly one dataset version.
type PointOfInterest struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Location    GeoPoint  `json:"location"`
	UpdatedAt   time.Time `json:"updatedAtUtc"`
	DataVersion string    `json:"dataVersion"`
}

type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

func NewGeoPoint(lon, lat float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: []float64{lon, lat}}
}

func (p GeoPoint) Lon() float64 {
	if len(p.Coordinates) < 2 {
		return 0
	}
	return p.Coordinates[0]
}

func (p GeoPoint) Lat() float64 {
	if len(p.Coordinates) < 2 {
		return 0
	}
	return p.Coordinates[1]
}

// Feature is the read-side projection returned by queries.
type Feature struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updatedAtUtc"`
}

func (p PointOfInterest) Feature() Feature {
	return Feature{
		ID:        p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Lat:       p.Location.Lat(),
		Lon:       p.Location.Lon(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}
