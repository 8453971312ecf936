package admin

import (
	"encoding/json"
	"net/http"
)

// Problem is the body of every error response
type Problem struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Status: status,
		Title:  http.StatusText(status),
		Detail: detail,
	})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusBadRequest, detail)
}

func notFound(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusNotFound, detail)
}

func unavailable(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusServiceUnavailable, detail)
}

func internalError(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusInternalServerError, detail)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSONBody decodes the request body, writing a 400 when it is not valid JSON
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	return true
}
