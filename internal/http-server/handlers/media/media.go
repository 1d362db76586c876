package mediahandler

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MediaHandler serves the media directories directly: HLS playlists and
// segments, finalized recordings, and thumbnails. Range requests work so
// players can seek; directory listings and path traversal do not.
type MediaHandler struct {
	log *slog.Logger
}

func New(log *slog.Logger) *MediaHandler {
	return &MediaHandler{
		log: log,
	}
}

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".jpg":  "image/jpeg",
}

// ServeDir returns a handler serving files below root. The route must
// capture the file path in a "*" wildcard.
func (h *MediaHandler) ServeDir(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := chi.URLParam(r, "*")

		path, ok := securePath(root, rel)
		if !ok {
			http.NotFound(w, r)

			return
		}

		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)

			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)

			return
		}

		if origin := r.Header.Get("Origin"); originIsLoopback(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
			w.Header().Set("Content-Type", ct)
		}

		// live playlists must not be cached by the player
		if strings.HasSuffix(path, ".m3u8") {
			w.Header().Set("Cache-Control", "no-cache")
		}

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

// originIsLoopback allows cross-origin reads from other local UIs only.
func originIsLoopback(origin string) bool {
	if origin == "" {
		return false
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := u.Hostname()

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}

	return false
}

// securePath joins rel under root and rejects anything escaping it.
func securePath(root, rel string) (string, bool) {
	if rel == "" || strings.Contains(rel, "\x00") {
		return "", false
	}

	path := filepath.Join(root, filepath.FromSlash(rel))

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}

	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", false
	}

	return absPath, true
}
