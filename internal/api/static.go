package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// StaticFileServer serves the overlay build with SPA fallback: any path that
// is not a file gets index.html so client-side routes such as /overlay and
// /settings load the app.
type StaticFileServer struct {
	subFS      fs.FS
	fileServer http.Handler
}

// NewStaticFileServer creates a new static file server rooted at fileRoot
// within staticFS. An empty fileRoot uses staticFS directly.
func NewStaticFileServer(staticFS fs.FS, fileRoot string) *StaticFileServer {
	subFS := staticFS
	if fileRoot != "" {
		if sub, err := fs.Sub(staticFS, fileRoot); err == nil {
			subFS = sub
		}
	}

	return &StaticFileServer{
		subFS:      subFS,
		fileServer: http.FileServer(http.FS(subFS)),
	}
}

// ServeHTTP implements http.Handler.
func (s *StaticFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name != "" && name != "index.html" {
		if info, err := fs.Stat(s.subFS, name); err == nil && !info.IsDir() {
			if strings.HasPrefix(name, "assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			s.fileServer.ServeHTTP(w, r)
			return
		}
	}

	content, err := fs.ReadFile(s.subFS, "index.html")
	if err != nil {
		writeError(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(content)
	}
}
