package mediahandler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	root := t.TempDir()

	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Get("/hls/*", h.ServeDir(root))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, root
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestServeDirContentTypes(t *testing.T) {
	srv, root := newTestServer(t)

	_ = os.MkdirAll(filepath.Join(root, "1"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "1", "stream.m3u8"), []byte("#EXTM3U\n"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "1", "segment_00001.ts"), []byte("tsdata"), 0o644)

	resp := get(t, srv.URL+"/hls/1/stream.m3u8")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("playlist content type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("playlist cache control = %q", cc)
	}

	resp = get(t, srv.URL+"/hls/1/segment_00001.ts")
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("segment content type = %q", ct)
	}
}

func TestServeDirRangeRequests(t *testing.T) {
	srv, root := newTestServer(t)

	_ = os.WriteFile(filepath.Join(root, "clip.mp4"), []byte("0123456789"), 0o644)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hls/clip.mp4", nil)
	req.Header.Set("Range", "bytes=2-5")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "2345" {
		t.Errorf("body = %q", body)
	}
}

func TestServeDirRejectsTraversal(t *testing.T) {
	srv, root := newTestServer(t)

	// a file outside the served root must stay invisible
	_ = os.WriteFile(filepath.Join(filepath.Dir(root), "secret.txt"), []byte("x"), 0o644)

	for _, path := range []string{
		"/hls/../secret.txt",
		"/hls/..%2Fsecret.txt",
		"/hls/1/../../secret.txt",
	} {
		resp := get(t, srv.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestServeDirNoListing(t *testing.T) {
	srv, root := newTestServer(t)

	_ = os.MkdirAll(filepath.Join(root, "1"), 0o755)

	resp := get(t, srv.URL+"/hls/1")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("directory request status = %d, want 404", resp.StatusCode)
	}
}

func TestServeDirLoopbackCORS(t *testing.T) {
	srv, root := newTestServer(t)

	_ = os.WriteFile(filepath.Join(root, "clip.mp4"), []byte("x"), 0o644)

	cases := []struct {
		origin string
		want   string
	}{
		{"http://localhost:1420", "http://localhost:1420"},
		{"http://127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"https://example.com", ""},
		{"", ""},
	}

	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hls/clip.mp4", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()

		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("origin %q: allow-origin = %q, want %q", tc.origin, got, tc.want)
		}
	}
}

func TestServeDirMissingFile(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv.URL+"/hls/9/stream.m3u8")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
