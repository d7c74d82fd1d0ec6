package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/sirupsen/logrus"
)

type TorrentConfig struct {
	// DataDir is the scratch directory the torrent client writes pieces to.
	// Each torrent gets its own subdirectory named by infohash.
	DataDir      string
	PollInterval time.Duration
	TrackerList  []string
	Logger       *logrus.Logger
}

// TorrentFetcher resolves magnet URIs and copies the payload to the
// destination. Multi-file torrents become a directory at the destination.
// Concurrent fetches of the same infohash share one download.
type TorrentFetcher struct {
	cfg     TorrentConfig
	client  *torrent.Client
	sources *sharedSources
	open    func(spec *torrent.TorrentSpec, dir string, logger *logrus.Entry) (torrentSource, error)
}

func NewTorrentFetcher(cfg TorrentConfig) (*TorrentFetcher, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create torrent data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.Seed = false

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}
	f := &TorrentFetcher{cfg: cfg, client: client, sources: newSharedSources()}
	f.open = f.addMagnet
	return f, nil
}

func (f *TorrentFetcher) Close() {
	if f.client != nil {
		f.client.Close()
	}
}

func (f *TorrentFetcher) Fetch(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return "", ErrEmptyDestination
	}
	if !strings.HasPrefix(strings.ToLower(req.URL), "magnet:") {
		return "", fmt.Errorf("%w: not a magnet uri", ErrUnsupportedScheme)
	}
	spec, err := torrent.TorrentSpecFromMagnetUri(req.URL)
	if err != nil {
		return "", fmt.Errorf("parse magnet: %w", err)
	}
	var key string
	switch {
	case !spec.InfoHash.IsZero():
		key = spec.InfoHash.HexString()
	case spec.InfoHashV2.Ok:
		key = spec.InfoHashV2.Value.HexString()
	default:
		return "", fmt.Errorf("parse magnet: no infohash")
	}
	logger := f.cfg.Logger.WithFields(logrus.Fields{"url": req.URL, "infohash": key})

	src, release, err := f.sources.acquire(key, func() (torrentSource, error) {
		return f.open(spec, filepath.Join(f.cfg.DataDir, key), logger)
	})
	if err != nil {
		return "", err
	}
	defer release()

	payload, err := src.wait(ctx)
	if err != nil {
		return "", err
	}
	if err := copyTree(payload, req.Destination); err != nil {
		return "", fmt.Errorf("copy torrent payload: %w", err)
	}
	return req.Destination, nil
}

// addMagnet registers the torrent with file storage rooted at dir.
func (f *TorrentFetcher) addMagnet(spec *torrent.TorrentSpec, dir string, logger *logrus.Entry) (torrentSource, error) {
	store := storage.NewFile(dir)
	spec.Storage = store
	for _, tracker := range f.cfg.TrackerList {
		spec.Trackers = append(spec.Trackers, []string{tracker})
	}

	t, _, err := f.client.AddTorrentSpec(spec)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("add magnet: %w", err)
	}
	return &magnetTorrent{t: t, store: store, dir: dir, poll: f.cfg.PollInterval, logger: logger}, nil
}

// torrentSource is a download shared by every fetch of one infohash.
// wait may be called concurrently; release is called once by the last user.
type torrentSource interface {
	wait(ctx context.Context) (string, error)
	release()
}

type magnetTorrent struct {
	t      *torrent.Torrent
	store  storage.ClientImplCloser
	dir    string
	poll   time.Duration
	logger *logrus.Entry
}

// wait blocks until the payload is complete and returns its local path.
func (m *magnetTorrent) wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for metadata: %w", ctx.Err())
	case <-m.t.GotInfo():
	}

	info := m.t.Info()
	if info == nil {
		return "", fmt.Errorf("missing torrent info")
	}
	m.logger.Infof("fetching %s (%d bytes)", info.BestName(), info.TotalLength())
	m.t.DownloadAll()

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for m.t.BytesMissing() > 0 {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("downloading torrent: %w", ctx.Err())
		case <-ticker.C:
			m.logger.Debugf("torrent progress %d/%d", m.t.BytesCompleted(), info.TotalLength())
		}
	}
	return filepath.Join(m.dir, info.BestName()), nil
}

func (m *magnetTorrent) release() {
	m.t.Drop()
	if err := m.store.Close(); err != nil {
		m.logger.Warnf("close torrent storage: %v", err)
	}
	if err := os.RemoveAll(m.dir); err != nil {
		m.logger.Warnf("cleanup torrent data: %v", err)
	}
}

// sharedSources reference-counts open torrents by infohash.
type sharedSources struct {
	mu   sync.Mutex
	open map[string]*sharedSource
}

type sharedSource struct {
	src  torrentSource
	refs int
}

func newSharedSources() *sharedSources {
	return &sharedSources{open: make(map[string]*sharedSource)}
}

// acquire returns the source for key, opening it on first use. The returned
// func drops the caller's reference and releases the source after the last one.
func (s *sharedSources) acquire(key string, open func() (torrentSource, error)) (torrentSource, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.open[key]
	if !ok {
		src, err := open()
		if err != nil {
			return nil, nil, err
		}
		e = &sharedSource{src: src}
		s.open[key] = e
	}
	e.refs++

	var once sync.Once
	return e.src, func() { once.Do(func() { s.release(key, e) }) }, nil
}

// release runs under the lock so a new fetch of key cannot reopen the
// scratch directory while it is being removed.
func (s *sharedSources) release(key string, e *sharedSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.open, key)
		e.src.release()
	}
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"udp://tracker.torrent.eu.org:451/announce",
	}
}

var _ Fetcher = (*TorrentFetcher)(nil)
