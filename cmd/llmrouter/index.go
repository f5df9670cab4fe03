package main

import (
	"html/template"
	"net/http"
	"sort"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/version"
	"github.com/ferro-labs/llm-router/web"
)

var indexTemplate = template.Must(template.ParseFS(web.Templates, "index.html"))

type indexRoute struct {
	Model   string
	OwnedBy string
	Backend string
}

type indexBackend struct {
	Name string
	URL  string
	Auth string
	Tags bool
}

type indexData struct {
	Version  string
	Backends []indexBackend
	Routes   []indexRoute
}

// indexHandler renders a status page listing backends and the current
// routing table.
func indexHandler(gw *llmrouter.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := indexData{Version: version.Short()}
		for _, b := range gw.Config().Backends {
			ib := indexBackend{Name: b.Name, URL: b.URL, Tags: b.Tags, Auth: "none"}
			if b.Auth != nil {
				ib.Auth = string(b.Auth.Type)
			}
			data.Backends = append(data.Backends, ib)
		}
		owners := make(map[string]string)
		for _, m := range gw.Cache().Models() {
			var owner string
			if m.Field("owned_by", &owner) {
				owners[m.ID] = owner
			}
		}
		for model, backend := range gw.Cache().Routes() {
			data.Routes = append(data.Routes, indexRoute{Model: model, OwnedBy: owners[model], Backend: backend})
		}
		sort.Slice(data.Routes, func(i, j int) bool { return data.Routes[i].Model < data.Routes[j].Model })

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, data); err != nil {
			logging.FromContext(r.Context()).Error("render index", "error", err)
		}
	}
}
