package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/upb/spa-auth/middleware"
	"github.com/upb/spa-auth/utils"
	"go.uber.org/zap"
)

// AppHandler serves the single-page application behind the navigation guard
type AppHandler struct {
	root   http.FileSystem
	dir    string
	logger *zap.Logger
}

// NewAppHandler serves files from dir. With an empty dir it answers with
// the caller's session instead, which is enough for API-only deployments.
func NewAppHandler(dir string, logger *zap.Logger) *AppHandler {
	h := &AppHandler{dir: dir, logger: logger}
	if dir != "" {
		h.root = http.Dir(dir)
	}
	return h
}

// ServeHTTP serves the requested asset, falling back to index.html so
// client-side routes resolve
func (h *AppHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.root == nil {
		h.serveSession(w, r)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if !h.exists(name) {
		name = "/index.html"
	}

	f, err := h.root.Open(name)
	if err != nil {
		h.logger.Error("failed to open SPA asset", zap.String("path", name), zap.Error(err))
		_ = utils.WriteNotFound(w, "Page not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = utils.WriteNotFound(w, "Page not found")
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Fallback serves existing static assets unguarded and redirects every
// other unknown path to target
func (h *AppHandler) Fallback(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.root != nil && h.exists(path.Clean("/"+r.URL.Path)) {
			h.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

func (h *AppHandler) serveSession(w http.ResponseWriter, r *http.Request) {
	store := middleware.GetStoreFromContext(r.Context())
	if store == nil {
		_ = utils.WriteInternalServerError(w, "Session not initialized")
		return
	}
	_ = utils.WriteOK(w, store.Session(r.Context()))
}

// exists reports whether name is a regular file under the root
func (h *AppHandler) exists(name string) bool {
	if strings.HasSuffix(name, "/") {
		return false
	}
	info, err := os.Stat(filepath.Join(h.dir, filepath.FromSlash(name)))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Debug("stat SPA asset", zap.String("path", name), zap.Error(err))
		}
		return false
	}
	return !info.IsDir()
}
