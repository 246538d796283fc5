package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"rwacredit/native/credit"
)

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func statusFor(class credit.Class) int {
	switch class {
	case credit.ClassValidation:
		return http.StatusBadRequest
	case credit.ClassNotFound:
		return http.StatusNotFound
	case credit.ClassForbidden:
		return http.StatusForbidden
	case credit.ClassStateConflict:
		return http.StatusConflict
	case credit.ClassResourceExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates engine failures into the API error taxonomy. Internal
// errors are logged and masked.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errBadRequest) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Class: string(credit.ClassValidation)})
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Class: string(credit.ClassValidation)})
		return
	}
	class := credit.Classify(err)
	status := statusFor(class)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", r.URL.Path, "method", r.Method, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: message, Class: string(class)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
