package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"poi-server/metrics"
	"poi-server/middleware"
	"poi-server/services"
	"poi-server/store"
)

type RouterConfig struct {
	Store          store.Store
	GeoService     *services.GeoService
	DatasetService *services.DatasetService
	AllowedOrigins []string
	// JWTSecret gates /api behind bearer tokens when set.
	JWTSecret    string
	QueryTimeout time.Duration
}

func NewRouter(cfg RouterConfig) *mux.Router {
	featureHandler := NewFeatureHandler(cfg.GeoService)
	datasetHandler := NewDatasetHandler(cfg.DatasetService)
	healthHandler := NewHealthHandler(cfg.Store)

	r := mux.NewRouter()
	r.Use(middleware.ErrorMiddleware())
	r.Use(middleware.AccessLogMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.HandleFunc("/healthz", healthHandler.Healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	if cfg.QueryTimeout > 0 {
		api.Use(middleware.TimeoutMiddleware(cfg.QueryTimeout))
	}
	if cfg.JWTSecret != "" {
		api.Use(middleware.JWTMiddleware(cfg.JWTSecret))
	}
	api.Use(middleware.DataVersionMiddleware(cfg.DatasetService))

	api.HandleFunc("/datasets/version", datasetHandler.GetActiveVersion).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/datasets/version/{version}", datasetHandler.GetVersion).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/features", featureHandler.GetFeatures).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/features.geojson", featureHandler.GetFeaturesGeoJSON).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/features/query", featureHandler.QueryFeatures).Methods(http.MethodPost, http.MethodOptions)

	return r
}
