package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

// MountSwagger serves the API docs UI under /swagger/ when enabled. The
// document itself comes from the swag registry, populated by the docs package.
func MountSwagger(r chi.Router) {
	if !swaggerEnabled {
		return
	}
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
	))
}
