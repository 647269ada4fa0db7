package httpserver

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Asset is one bundled static file.
type Asset struct {
	Bytes []byte
	MIME  string
}

// AssetMap is the embedded-default asset source: path -> {bytes, mime}.
// A real distribution populates this via go:embed over the built frontend;
// it is left empty here since no frontend bundle ships with this module.
type AssetMap map[string]Asset

// assetHandler serves static files either from an embedded AssetMap (the
// bundled default) or from a filesystem directory (development mode, set
// via -web). Directory mode normalises the joined path and rejects any
// result that escapes the base directory.
type assetHandler struct {
	assets AssetMap
	devDir string
}

func newAssetHandler(assets AssetMap, devDir string) *assetHandler {
	return &assetHandler{assets: assets, devDir: devDir}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.devDir != "" {
		h.serveFromDir(w, r)
		return
	}
	h.serveFromMap(w, r)
}

func (h *assetHandler) serveFromMap(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}
	asset, ok := h.assets[path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", asset.MIME)
	w.Write(asset.Bytes)
}

// serveFromDir joins r.URL.Path onto the base directory and rejects any
// result that is not exactly the base or a descendant of base+"/" —
// blocks both sibling-prefix escapes (base-evil) and ../ traversal.
func (h *assetHandler) serveFromDir(w http.ResponseWriter, r *http.Request) {
	base := filepath.Clean(h.devDir)
	requested := filepath.Join(base, filepath.FromSlash(r.URL.Path))

	if requested != base && !strings.HasPrefix(requested, base+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if requested == base {
		requested = filepath.Join(base, "index.html")
	}

	http.ServeFile(w, r, requested)
}
