package handlers

import (
	"net/http"

	apperrors "github.com/uptotrial/uptotrial/internal/errors"
)

// ChatPlaceholderHandler answers for the gated API surface when no backend
// implementation has been mounted. The gate still runs in full for these
// requests; only the business handler is absent.
func ChatPlaceholderHandler(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewNotImplementedError(
		"The chat backend is not mounted on this deployment"))
}
