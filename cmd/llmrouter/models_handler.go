package main

import (
	"encoding/json"
	"net/http"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/routing"
)

// listModelsHandler serves the model cache as an OpenAI-style model list.
func listModelsHandler(gw *llmrouter.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, routing.ModelList{Object: "list", Data: gw.Cache().Models()})
	}
}

// listTagsHandler serves the tag cache in the /api/tags shape.
func listTagsHandler(gw *llmrouter.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, routing.TagList{Models: gw.Cache().Tags()})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
