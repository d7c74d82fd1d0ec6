package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/config"
	"batchfetch/internal/fetch"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuildFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.UserAgent())
	}))
	defer srv.Close()

	var cfg config.Config
	cfg.Download.UserAgent = "batchfetch-test"

	f, closeFn, err := BuildFetcher(cfg, quietLogger())
	be.Err(t, err, nil)
	defer closeFn()

	dest := filepath.Join(t.TempDir(), "ua.txt")
	got, err := f.Fetch(context.Background(), fetch.Request{URL: srv.URL, Destination: dest})
	be.Err(t, err, nil)
	be.Equal(t, got, dest)
	data, err := os.ReadFile(dest)
	be.Err(t, err, nil)
	be.Equal(t, string(data), "batchfetch-test")

	_, err = f.Fetch(context.Background(), fetch.Request{URL: "magnet:?xt=urn:btih:abc", Destination: dest})
	be.Err(t, err, fetch.ErrUnsupportedScheme)
}

func TestBuildFetcherBlocksPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var cfg config.Config
	cfg.Download.BlockPrivate = true

	f, closeFn, err := BuildFetcher(cfg, quietLogger())
	be.Err(t, err, nil)
	defer closeFn()

	_, err = f.Fetch(context.Background(), fetch.Request{URL: srv.URL, Destination: filepath.Join(t.TempDir(), "x")})
	be.Err(t, err, fetch.ErrPrivateAddress)
}

func TestBuildStorageDisabled(t *testing.T) {
	store, err := BuildStorage(context.Background(), config.Config{}, quietLogger())
	be.Err(t, err, nil)
	be.True(t, store == nil)
}

func TestOpenRepositories(t *testing.T) {
	ctx := context.Background()
	repos, err := OpenRepositories(ctx, filepath.Join(t.TempDir(), "db", "app.db"))
	be.Err(t, err, nil)
	defer repos.Close()

	batches, err := repos.Batches.List(ctx)
	be.Err(t, err, nil)
	be.Equal(t, len(batches), 0)
}
