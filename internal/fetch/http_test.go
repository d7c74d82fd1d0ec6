package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nalgeon/be"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/file.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "hello world")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, r.Header.Get("User-Agent")+"|"+r.Header.Get("Accept-Language")+"|"+r.Header.Get("Authorization"))
	})
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(cfg HTTPConfig) *HTTPFetcher {
	cfg.Logger = quietLogger()
	return NewHTTPFetcher(NewHTTPClient(ClientConfig{}), cfg)
}

func TestHTTPFetcherSavesFile(t *testing.T) {
	srv := newTestServer(t)
	dest := filepath.Join(t.TempDir(), "nested", "out.txt")

	got, err := newTestFetcher(HTTPConfig{}).Fetch(context.Background(), Request{
		URL:         srv.URL + "/file.txt",
		Destination: dest,
	})
	be.Err(t, err, nil)
	be.Equal(t, got, dest)

	data, err := os.ReadFile(dest)
	be.Err(t, err, nil)
	be.Equal(t, string(data), "hello world")
}

func TestHTTPFetcherAppliesAmbientHeaders(t *testing.T) {
	srv := newTestServer(t)
	dest := filepath.Join(t.TempDir(), "echo.txt")
	info := ambient.Info{
		ambient.KeyUserAgent:      "importer/2",
		ambient.KeyAcceptLanguage: "de-DE",
		ambient.KeyAuthorization:  "Bearer abc",
	}

	_, err := newTestFetcher(HTTPConfig{}).Fetch(context.Background(), Request{
		URL:         srv.URL + "/echo",
		Destination: dest,
		Info:        info,
	})
	be.Err(t, err, nil)

	data, err := os.ReadFile(dest)
	be.Err(t, err, nil)
	be.Equal(t, string(data), "importer/2|de-DE|Bearer abc")
}

func TestHTTPFetcherDefaultUserAgent(t *testing.T) {
	srv := newTestServer(t)
	dest := filepath.Join(t.TempDir(), "echo.txt")

	_, err := newTestFetcher(HTTPConfig{UserAgent: "crawler/1"}).Fetch(context.Background(), Request{
		URL:         srv.URL + "/echo",
		Destination: dest,
	})
	be.Err(t, err, nil)

	data, _ := os.ReadFile(dest)
	be.Equal(t, string(data), "crawler/1||")
}

func TestHTTPFetcherErrors(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()

	blocker := filepath.Join(dir, "blocker")
	be.Err(t, os.WriteFile(blocker, []byte("x"), 0o644), nil)

	tests := []struct {
		name string
		url  string
		dest string
		cfg  HTTPConfig
		want string
	}{
		{"empty url", "", filepath.Join(dir, "a"), HTTPConfig{}, "invalid url"},
		{"relative url", "file.txt", filepath.Join(dir, "a"), HTTPConfig{}, "invalid url"},
		{"ftp scheme", "ftp://example.com/a", filepath.Join(dir, "a"), HTTPConfig{}, "unsupported url scheme"},
		{"not found", srv.URL + "/missing", filepath.Join(dir, "a"), HTTPConfig{}, "unexpected status 404"},
		{"mime blocked", srv.URL + "/file.txt", filepath.Join(dir, "a"), HTTPConfig{AllowMIMETypes: []string{"image/png"}}, `content type "text/plain" is not allowed`},
		{"too large", srv.URL + "/file.txt", filepath.Join(dir, "b"), HTTPConfig{MaxBytes: 4}, "response exceeds size limit"},
		{"unwritable destination", srv.URL + "/file.txt", filepath.Join(blocker, "out.txt"), HTTPConfig{}, "create destination dir"},
		{"empty destination", srv.URL + "/file.txt", "", HTTPConfig{}, "destination path is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestFetcher(tt.cfg).Fetch(context.Background(), Request{URL: tt.url, Destination: tt.dest})
			be.Err(t, err, tt.want)
		})
	}

	entries, err := os.ReadDir(dir)
	be.Err(t, err, nil)
	for _, e := range entries {
		be.True(t, !strings.HasSuffix(e.Name(), ".part"))
	}
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := newTestServer(t)
	_, err := newTestFetcher(HTTPConfig{}).Fetch(context.Background(), Request{
		URL:         srv.URL + "/missing",
		Destination: filepath.Join(t.TempDir(), "x"),
	})
	var se *StatusError
	be.True(t, errors.As(err, &se))
	be.Equal(t, se.Code, http.StatusNotFound)
}

func TestHTTPFetcherMIMEAllowed(t *testing.T) {
	srv := newTestServer(t)
	dest := filepath.Join(t.TempDir(), "img.png")
	_, err := newTestFetcher(HTTPConfig{AllowMIMETypes: []string{"IMAGE/PNG"}}).Fetch(context.Background(), Request{
		URL:         srv.URL + "/image.png",
		Destination: dest,
	})
	be.Err(t, err, nil)
}

func TestHTTPFetcherHonoursContext(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	dest := filepath.Join(t.TempDir(), "slow")
	_, err := newTestFetcher(HTTPConfig{}).Fetch(ctx, Request{URL: srv.URL + "/slow", Destination: dest})
	be.Err(t, err, context.DeadlineExceeded)

	_, statErr := os.Stat(dest)
	be.True(t, os.IsNotExist(statErr))
}

func TestHTTPClientBlocksPrivate(t *testing.T) {
	srv := newTestServer(t)
	f := NewHTTPFetcher(NewHTTPClient(ClientConfig{BlockPrivate: true}), HTTPConfig{Logger: quietLogger()})

	port := srv.URL[strings.LastIndex(srv.URL, ":")+1:]
	for _, host := range []string{"127.0.0.1", "0.0.0.0", "[::]"} {
		t.Run(host, func(t *testing.T) {
			url := "http://" + host + ":" + port + "/file.txt"
			_, err := f.Fetch(context.Background(), Request{URL: url, Destination: filepath.Join(t.TempDir(), "x")})
			be.Err(t, err, ErrPrivateAddress)
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"0.0.0.0", true},
		{"0.1.2.3", true},
		{"::", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:127.0.0.1", true},
		{"8.8.8.8", false},
		{"100.128.0.1", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			be.Equal(t, isPrivateIP(net.ParseIP(tt.ip)), tt.want)
		})
	}
}
