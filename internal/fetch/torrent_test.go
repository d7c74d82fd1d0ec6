package fetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/nalgeon/be"
	"github.com/sirupsen/logrus"
)

const (
	testMagnet  = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=demo"
	otherMagnet = "magnet:?xt=urn:btih:08ada5a7a6183aae1e09d831df6748d566095a10&dn=demo"
)

// fakeSource serves a payload written under dir once gate is closed.
type fakeSource struct {
	dir      string
	gate     chan struct{}
	waiting  chan struct{}
	released int
	mu       *sync.Mutex
}

func (s *fakeSource) wait(ctx context.Context) (string, error) {
	s.waiting <- struct{}{}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.gate:
	}
	return filepath.Join(s.dir, "demo"), nil
}

func (s *fakeSource) release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
	os.RemoveAll(s.dir)
}

type fakeTorrents struct {
	mu      sync.Mutex
	opened  map[string]int
	sources []*fakeSource
	gate    chan struct{}
	waiting chan struct{}
}

func newTestTorrentFetcher(t *testing.T) (*TorrentFetcher, *fakeTorrents) {
	t.Helper()
	fakes := &fakeTorrents{
		opened:  map[string]int{},
		gate:    make(chan struct{}),
		waiting: make(chan struct{}, 8),
	}
	f := &TorrentFetcher{
		cfg:     TorrentConfig{DataDir: t.TempDir(), Logger: quietLogger()},
		sources: newSharedSources(),
	}
	f.open = func(spec *torrent.TorrentSpec, dir string, _ *logrus.Entry) (torrentSource, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(dir, "demo"), []byte(spec.InfoHash.HexString()), 0o644); err != nil {
			return nil, err
		}
		fakes.mu.Lock()
		defer fakes.mu.Unlock()
		fakes.opened[filepath.Base(dir)]++
		src := &fakeSource{dir: dir, gate: fakes.gate, waiting: fakes.waiting, mu: &fakes.mu}
		fakes.sources = append(fakes.sources, src)
		return src, nil
	}
	return f, fakes
}

func TestTorrentFetcherSharesPayload(t *testing.T) {
	f, fakes := newTestTorrentFetcher(t)
	out := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dest := filepath.Join(out, []string{"a", "b"}[i])
			_, errs[i] = f.Fetch(context.Background(), Request{URL: testMagnet, Destination: dest})
		}()
	}

	// both fetches hold the torrent before either may finish
	<-fakes.waiting
	<-fakes.waiting
	close(fakes.gate)
	wg.Wait()

	for _, err := range errs {
		be.Err(t, err, nil)
	}
	for _, name := range []string{"a", "b"} {
		data, err := os.ReadFile(filepath.Join(out, name))
		be.Err(t, err, nil)
		be.Equal(t, string(data), "c9e15763f722f23e98a29decdfae341b98d53056")
	}

	be.Equal(t, len(fakes.sources), 1)
	be.Equal(t, fakes.sources[0].released, 1)
	_, err := os.Stat(fakes.sources[0].dir)
	be.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTorrentFetcherSeparatesInfohashes(t *testing.T) {
	f, fakes := newTestTorrentFetcher(t)
	close(fakes.gate)
	out := t.TempDir()

	_, err := f.Fetch(context.Background(), Request{URL: testMagnet, Destination: filepath.Join(out, "one")})
	be.Err(t, err, nil)
	_, err = f.Fetch(context.Background(), Request{URL: otherMagnet, Destination: filepath.Join(out, "two")})
	be.Err(t, err, nil)

	data, err := os.ReadFile(filepath.Join(out, "two"))
	be.Err(t, err, nil)
	be.Equal(t, string(data), "08ada5a7a6183aae1e09d831df6748d566095a10")
	be.Equal(t, fakes.opened, map[string]int{
		"c9e15763f722f23e98a29decdfae341b98d53056": 1,
		"08ada5a7a6183aae1e09d831df6748d566095a10": 1,
	})
}

func TestTorrentFetcherCancelKeepsSharedPayload(t *testing.T) {
	f, fakes := newTestTorrentFetcher(t)
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, Request{URL: testMagnet, Destination: filepath.Join(out, "a")})
		cancelled <- err
	}()
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), Request{URL: testMagnet, Destination: filepath.Join(out, "b")})
		done <- err
	}()
	<-fakes.waiting
	<-fakes.waiting

	cancel()
	be.Err(t, <-cancelled, context.Canceled)
	fakes.mu.Lock()
	be.Equal(t, fakes.sources[0].released, 0)
	fakes.mu.Unlock()

	close(fakes.gate)
	select {
	case err := <-done:
		be.Err(t, err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("shared fetch did not finish")
	}
	be.Equal(t, fakes.sources[0].released, 1)
}

func TestTorrentFetcherRejects(t *testing.T) {
	f, _ := newTestTorrentFetcher(t)
	dest := filepath.Join(t.TempDir(), "x")

	_, err := f.Fetch(context.Background(), Request{URL: testMagnet})
	be.Err(t, err, ErrEmptyDestination)

	_, err = f.Fetch(context.Background(), Request{URL: "https://example.com/x", Destination: dest})
	be.Err(t, err, ErrUnsupportedScheme)

	_, err = f.Fetch(context.Background(), Request{URL: "magnet:?dn=nohash", Destination: dest})
	be.Err(t, err, "no infohash")

	_, err = f.Fetch(context.Background(), Request{URL: "magnet:?xt=urn:btih:zz", Destination: dest})
	be.Err(t, err, "parse magnet")
}

func TestSharedSourcesReopenAfterRelease(t *testing.T) {
	s := newSharedSources()
	opens := 0
	open := func() (torrentSource, error) {
		opens++
		return &fakeSource{dir: t.TempDir(), mu: &sync.Mutex{}}, nil
	}

	src, release, err := s.acquire("k", open)
	be.Err(t, err, nil)
	release()
	release()
	be.Equal(t, src.(*fakeSource).released, 1)

	_, release, err = s.acquire("k", open)
	be.Err(t, err, nil)
	defer release()
	be.Equal(t, opens, 2)

	_, _, err = s.acquire("bad", func() (torrentSource, error) { return nil, errors.New("boom") })
	be.Err(t, err, "boom")
	be.Equal(t, len(s.open), 1)
}
