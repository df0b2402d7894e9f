package api

import "net/http"

// serviceInfoResponse is a minimal, static TesServiceInfo document —
// read-only, no core coupling.
type serviceInfoResponse struct {
	Name             string   `json:"name"`
	Doc              string   `json:"doc"`
	StorageBackends  []string `json:"storage,omitempty"`
	TesVersion       []string `json:"tesVersion"`
}

// ServiceInfo handles GET /ga4gh/tes/v1/service-info.
func ServiceInfo(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, serviceInfoResponse{
		Name:            "tesp-api-go",
		Doc:             "GA4GH Task Execution Service frontend backed by a Pulsar job executor",
		StorageBackends: []string{"ftp"},
		TesVersion:      []string{"1.1"},
	})
}
