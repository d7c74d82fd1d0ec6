// Package fetch retrieves remote resources into local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"batchfetch/internal/ambient"
)

var (
	ErrEmptyURL          = errors.New("source url is empty")
	ErrEmptyDestination  = errors.New("destination path is empty")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Request describes one fetch. Info is the caller's ambient snapshot;
// fetchers read outbound headers and identity from it.
type Request struct {
	URL         string
	Destination string
	Info        ambient.Info
}

// Fetcher fetches a resource and stores it locally, returning the local path.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (string, error)
}

type FetcherFunc func(ctx context.Context, req Request) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Mux routes requests to a Fetcher by URL scheme.
type Mux struct {
	fetchers map[string]Fetcher
}

func NewMux() *Mux {
	return &Mux{fetchers: make(map[string]Fetcher)}
}

// Handle registers f for the given schemes. Schemes are case-insensitive.
func (m *Mux) Handle(f Fetcher, schemes ...string) {
	for _, s := range schemes {
		m.fetchers[strings.ToLower(s)] = f
	}
}

func (m *Mux) Fetch(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", ErrEmptyURL
	}
	if strings.TrimSpace(req.Destination) == "" {
		return "", ErrEmptyDestination
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	f, ok := m.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return f.Fetch(ctx, req)
}

var _ Fetcher = (*Mux)(nil)
