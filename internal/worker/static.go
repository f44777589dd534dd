package worker

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed static/*
var staticFS embed.FS

// staticSubFS is the dashboard rooted at static/.
var staticSubFS fs.FS

func init() {
	var err error
	staticSubFS, err = fs.Sub(staticFS, "static")
	if err != nil {
		panic("failed to create sub filesystem: " + err.Error())
	}
}

var assetTypes = map[string]string{
	".js":  "application/javascript",
	".css": "text/css",
	".svg": "image/svg+xml",
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// serveIndex serves the dashboard page.
func serveIndex(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(staticSubFS, "index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	noCache(w)
	_, _ = w.Write(content)
}

// serveAssets serves files under /assets/.
func serveAssets(w http.ResponseWriter, r *http.Request) {
	name := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
	if !strings.HasPrefix(name, "assets/") {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	content, err := fs.ReadFile(staticSubFS, name)
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	if ct, ok := assetTypes[path.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	noCache(w)
	_, _ = w.Write(content)
}
