// internal/controller/controller.go
package controller

import (
	"net/http"

	appErrors "github.com/sendfox/sendfox-backend/internal/errors"
)

// writeError maps the service error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case appErrors.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
