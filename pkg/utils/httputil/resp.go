package httputil

import (
	"encoding/json"
	"net/http"
)

func RespondJSON(rw http.ResponseWriter, resp any) {
	RespondJSONStatus(rw, http.StatusOK, resp)
}

func RespondJSONStatus(rw http.ResponseWriter, status int, resp any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(resp)
}

func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
