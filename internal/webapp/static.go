package webapp

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/hlog"
)

const (
	htmlType     = "text/html; charset=utf-8"
	fallbackType = "text/plain; charset=utf-8"
)

func (api *Api) servePage(w http.ResponseWriter, r *http.Request, page string) {
	api.serveFile(w, r, filepath.Join(api.config.StaticRoot, page), htmlType, http.StatusOK)
}

func (api *Api) serveStatic(w http.ResponseWriter, r *http.Request) {
	file, ok := api.resolveAsset(r.URL.Path)
	if !ok {
		api.notFound(w, r)
		return
	}
	ct := mime.TypeByExtension(filepath.Ext(file))
	if ct == "" {
		ct = fallbackType
	}
	api.serveFile(w, r, file, ct, http.StatusOK)
}

func (api *Api) notFound(w http.ResponseWriter, r *http.Request) {
	api.serveFile(w, r, filepath.Join(api.config.StaticRoot, api.config.ErrorPage), htmlType, http.StatusNotFound)
}

// resolveAsset maps a URL path to a regular file under the static root.
// Cleaning against "/" keeps ".." segments inside the root.
func (api *Api) resolveAsset(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if rel == "" {
		return "", false
	}
	file := filepath.Join(api.config.StaticRoot, filepath.FromSlash(rel))
	fi, err := os.Stat(file)
	if err != nil || !fi.Mode().IsRegular() {
		return "", false
	}
	return file, true
}

func (api *Api) serveFile(w http.ResponseWriter, r *http.Request, file string, contentType string, status int) {
	f, err := os.Open(file)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("file", file).Msg("unable to open page")
		if status == http.StatusNotFound {
			http.NotFound(w, r)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	if status == http.StatusOK {
		fi, err := f.Stat()
		if err == nil {
			http.ServeContent(w, r, file, fi.ModTime(), f)
			return
		}
	}
	w.WriteHeader(status)
	_, _ = io.Copy(w, f)
}
