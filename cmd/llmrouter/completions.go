package main

import (
	"errors"
	"io"
	"net/http"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/logging"
)

// Literal bodies returned for requests the gateway cannot relay.
const (
	msgUnknownModel    = "Unknown model"
	msgForwardingError = "Internal forwarding error"
)

// forwardHandler buffers the request body, hands it to the gateway and relays
// the backend response (status, headers, body) unchanged.
func forwardHandler(gw *llmrouter.Gateway, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			// An unreadable body is routed like an empty one.
			logging.FromContext(r.Context()).Debug("failed to read request body", "error", err)
			body = nil
		}

		resp, err := gw.Forward(r.Context(), r.Header, body, endpoint)
		switch {
		case errors.Is(err, llmrouter.ErrUnknownModel):
			writeText(w, http.StatusBadRequest, msgUnknownModel)
			return
		case err != nil:
			writeText(w, http.StatusInternalServerError, msgForwardingError)
			return
		}

		for k, vv := range resp.Header {
			w.Header()[k] = vv
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	}
}
