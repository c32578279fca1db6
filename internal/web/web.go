// Package web serves the single-page frontend shell and its static assets.
// All application behavior lives in the JSON API; this package only ships
// bytes to the browser.
package web

import (
	"net/http"
	"os"
	"path/filepath"
)

type Web struct {
	staticDir string
}

func New(staticDir string) *Web {
	if staticDir == "" {
		staticDir = filepath.Join("web", "static")
	}
	return &Web{staticDir: staticDir}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(w.staticDir))))
	mux.HandleFunc("GET /{$}", w.handleIndex)
}

func (w *Web) handleIndex(wr http.ResponseWriter, r *http.Request) {
	index := filepath.Join(w.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.Error(wr, "frontend assets not installed", http.StatusNotFound)
		return
	}
	http.ServeFile(wr, r, index)
}
