package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"rustshop-api/pkg/apierror"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// decodeJSON decodes a request body into dst with strict field checking.
// Unknown fields are a client error, not something to silently drop.
func decodeJSON(r *http.Request, dst interface{}) *apierror.Error {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return apierror.BadRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// parseLimit reads the limit query parameter, clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// validSteamID reports whether s looks like a 17-digit SteamID64.
func validSteamID(s string) bool {
	if len(s) != 17 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
