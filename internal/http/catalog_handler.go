package http

import (
	"net/http"

	"github.com/fjod/sellr/internal/catalog"
	"github.com/fjod/sellr/internal/domain"
)

type CatalogResponseDTO struct {
	Items []domain.CatalogItem `json:"items"`
}

// GET /api/v1/catalog
func GetCatalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CatalogResponseDTO{Items: catalog.All()})
}
