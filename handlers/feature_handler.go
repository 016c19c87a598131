package handlers

import (
	"io"
	"net/http"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	pkgerrors "github.com/pkg/errors"

	"poi-server/middleware"
	"poi-server/models"
	"poi-server/services"
	"poi-server/utils/errors"
)

const maxRegionBodyBytes = 1 << 20

type FeatureHandler struct {
	geoService *services.GeoService
}

func NewFeatureHandler(geoService *services.GeoService) *FeatureHandler {
	return &FeatureHandler{geoService: geoService}
}

// GetFeatures handles GET /api/features?bbox=w,s,e,n&category=&limit=
func (h *FeatureHandler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	result, ok := h.queryBBox(w, r)
	if !ok {
		return
	}
	writeJSON(w, "application/json", result.Features)
}

// GetFeaturesGeoJSON answers the same query as GetFeatures as a GeoJSON FeatureCollection.
func (h *FeatureHandler) GetFeaturesGeoJSON(w http.ResponseWriter, r *http.Request) {
	result, ok := h.queryBBox(w, r)
	if !ok {
		return
	}
	writeJSON(w, "application/geo+json", toFeatureCollection(result.Features))
}

// QueryFeatures handles POST /api/features/query with a GeoJSON Polygon or MultiPolygon body.
func (h *FeatureHandler) QueryFeatures(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRegionBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if pkgerrors.As(err, &tooLarge) {
			middleware.WriteError(w, errors.ErrBodyTooLarge)
			return
		}
		middleware.WriteError(w, errors.ErrInvalidInput.WithDetails("unreadable request body"))
		return
	}

	result, err := h.geoService.QueryByPolygon(r.Context(), body, r.URL.Query().Get("category"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, "application/json", result.Features)
}

func (h *FeatureHandler) queryBBox(w http.ResponseWriter, r *http.Request) (services.QueryResult, bool) {
	limit, err := parseLimit(r)
	if err != nil {
		middleware.WriteError(w, err)
		return services.QueryResult{}, false
	}
	q := r.URL.Query()
	result, err := h.geoService.QueryByBoundingBox(r.Context(), q.Get("bbox"), q.Get("category"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return services.QueryResult{}, false
	}
	return result, true
}

func toFeatureCollection(features []models.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		feature := geojson.NewFeature(orb.Point{f.Lon, f.Lat})
		feature.ID = f.ID.String()
		feature.Properties["name"] = f.Name
		feature.Properties["category"] = f.Category
		feature.Properties["updatedAtUtc"] = f.UpdatedAt
		fc.Append(feature)
	}
	return fc
}
