package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	oembedfilter "github.com/ferro-labs/oembed-filter"
	"github.com/ferro-labs/oembed-filter/internal/logging"
)

const maxFilterBody = 4 << 20

type filterRequest struct {
	Text string `json:"text"`
}

type filterResponse struct {
	Text string `json:"text"`
}

// filterHandler runs the embed filter over posted text. JSON bodies
// ({"text": "..."}) get a JSON answer; any other content type is filtered
// as raw HTML and answered in kind.
func filterHandler(f *oembedfilter.Filter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxFilterBody)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		asJSON := mediaType == "application/json"

		var text string
		if asJSON {
			var req filterRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
				return
			}
			text = req.Text
		} else {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeAPIError(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request_error")
				return
			}
			text = string(body)
		}

		out, err := f.Apply(r.Context(), text)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			logging.FromContext(r.Context()).Warn("filter interrupted", "error", err)
			writeAPIError(w, status, "filter interrupted: "+err.Error(), "server_error")
			return
		}

		if asJSON {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(filterResponse{Text: out})
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, out)
	}
}

// writeAPIError writes a JSON error response.
func writeAPIError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
		},
	})
}
