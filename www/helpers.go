package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"intellikeeper/cascade"
	"intellikeeper/frame"
	"intellikeeper/messaging"
	"intellikeeper/store"
)

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fail maps engine errors to status codes: unknown ids are 404, bad input
// is 400, anything else is 500.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, frame.ErrMalformedFrameStream),
		errors.Is(err, frame.ErrMalformedReaderList),
		errors.Is(err, messaging.ErrMalformedEnvelope),
		errors.Is(err, cascade.ErrUnknownEventKind):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// pathID parses the {id} URL parameter, writing a 400 when it is invalid.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
