package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
)

func TestMuxRoutesByScheme(t *testing.T) {
	var got []string
	record := func(name string) Fetcher {
		return FetcherFunc(func(ctx context.Context, req Request) (string, error) {
			got = append(got, name)
			return req.Destination, nil
		})
	}

	mux := NewMux()
	mux.Handle(record("http"), "http", "https")
	mux.Handle(record("magnet"), "magnet")

	for _, u := range []string{"https://example.com/a", "HTTP://example.com/b", "magnet:?xt=urn:btih:abc"} {
		_, err := mux.Fetch(context.Background(), Request{URL: u, Destination: "/tmp/x"})
		be.Err(t, err, nil)
	}
	be.Equal(t, got, []string{"http", "http", "magnet"})
}

func TestMuxRejects(t *testing.T) {
	mux := NewMux()
	mux.Handle(FetcherFunc(func(ctx context.Context, req Request) (string, error) {
		return req.Destination, nil
	}), "http")

	_, err := mux.Fetch(context.Background(), Request{URL: "  ", Destination: "/tmp/x"})
	be.Err(t, err, ErrEmptyURL)

	_, err = mux.Fetch(context.Background(), Request{URL: "http://example.com", Destination: ""})
	be.Err(t, err, ErrEmptyDestination)

	_, err = mux.Fetch(context.Background(), Request{URL: "gopher://example.com", Destination: "/tmp/x"})
	be.Err(t, err, ErrUnsupportedScheme)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	be.Err(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755), nil)
	be.Err(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644), nil)
	be.Err(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("b"), 0o644), nil)

	dst := filepath.Join(t.TempDir(), "copy")
	be.Err(t, copyTree(src, dst), nil)

	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	be.Err(t, err, nil)
	be.Equal(t, string(data), "b")

	single := filepath.Join(t.TempDir(), "single.txt")
	be.Err(t, copyTree(filepath.Join(src, "a.txt"), single), nil)
	data, err = os.ReadFile(single)
	be.Err(t, err, nil)
	be.Equal(t, string(data), "a")
}
