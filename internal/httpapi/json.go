package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fleetward/control-plane/internal/apierr"
)

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeOK writes the success envelope spec.md §7 requires:
// {status: "ok", ...data}.
func writeOK(w http.ResponseWriter, status int, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = "ok"
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeErr writes the failure envelope spec.md §7 requires:
// {status: "error", error, error_code, ...details}, deriving the HTTP
// status and code from err when it is an *apierr.APIError, defaulting to
// a generic 500/INTERNAL_ERROR otherwise so internals never leak.
func writeErr(w http.ResponseWriter, err error) {
	apiErr := apierr.Get(err)
	if apiErr == nil {
		apiErr = apierr.Internal("internal error", err)
	}
	body := map[string]interface{}{
		"status":     "error",
		"error":      apiErr.Message,
		"error_code": apiErr.Code,
	}
	if len(apiErr.Details) > 0 {
		body["details"] = apiErr.Details
	}
	for key, value := range apiErr.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(body)
}
