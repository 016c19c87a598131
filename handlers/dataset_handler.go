package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"poi-server/services"
)

type DatasetHandler struct {
	datasetService *services.DatasetService
}

type ActiveVersionResponse struct {
	ActiveVersion string `json:"activeVersion"`
}

func NewDatasetHandler(datasetService *services.DatasetService) *DatasetHandler {
	return &DatasetHandler{datasetService: datasetService}
}

// GetActiveVersion handles GET /api/datasets/version.
func (h *DatasetHandler) GetActiveVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := services.ActiveVersionFromContext(r.Context())
	if !ok {
		var err error
		version, err = h.datasetService.GetActiveVersion(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, "application/json", ActiveVersionResponse{ActiveVersion: version})
}

// GetVersion handles GET /api/datasets/version/{version}.
func (h *DatasetHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.datasetService.GetVersion(r.Context(), mux.Vars(r)["version"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, "application/json", version)
}
