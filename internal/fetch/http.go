package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
)

var ErrTooLarge = errors.New("response exceeds size limit")

// StatusError reports a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

type HTTPConfig struct {
	UserAgent string
	// AllowMIMETypes restricts accepted Content-Types. Empty allows everything.
	AllowMIMETypes []string
	// MaxBytes caps the body size. Zero means no limit.
	MaxBytes int64
	Logger   *logrus.Logger
}

// HTTPFetcher downloads http and https URLs.
type HTTPFetcher struct {
	client *http.Client
	cfg    HTTPConfig
	allow  map[string]bool
}

func NewHTTPFetcher(client *http.Client, cfg HTTPConfig) *HTTPFetcher {
	if client == nil {
		client = NewHTTPClient(ClientConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "batchfetch/1.0"
	}
	var allow map[string]bool
	if len(cfg.AllowMIMETypes) > 0 {
		allow = make(map[string]bool, len(cfg.AllowMIMETypes))
		for _, ct := range cfg.AllowMIMETypes {
			allow[strings.ToLower(strings.TrimSpace(ct))] = true
		}
	}
	return &HTTPFetcher{client: client, cfg: cfg, allow: allow}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (string, error) {
	logger := f.cfg.Logger.WithFields(logrus.Fields{
		"url":        req.URL,
		"request_id": req.Info.Get(ambient.KeyRequestID),
	})

	if strings.TrimSpace(req.Destination) == "" {
		return "", ErrEmptyDestination
	}
	u, err := url.ParseRequestURI(strings.TrimSpace(req.URL))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	f.applyHeaders(httpReq, req.Info)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debugf("unexpected status %d", resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode}
	}

	if f.allow != nil {
		ct := contentType(resp)
		if !f.allow[ct] {
			return "", fmt.Errorf("content type %q is not allowed", ct)
		}
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = &limitReader{r: resp.Body, remaining: f.cfg.MaxBytes}
	}

	n, err := writeFile(req.Destination, body)
	if err != nil {
		return "", err
	}

	logger.Debugf("saved %d bytes to %s", n, req.Destination)
	return req.Destination, nil
}

func (f *HTTPFetcher) applyHeaders(r *http.Request, info ambient.Info) {
	ua := info.Get(ambient.KeyUserAgent)
	if ua == "" {
		ua = f.cfg.UserAgent
	}
	r.Header.Set("User-Agent", ua)
	if lang := info.Get(ambient.KeyAcceptLanguage); lang != "" {
		r.Header.Set("Accept-Language", lang)
	}
	if auth := info.Get(ambient.KeyAuthorization); auth != "" {
		r.Header.Set("Authorization", auth)
	}
}

func contentType(resp *http.Response) string {
	ct := resp.Header.Get("Content-Type")
	if end := strings.IndexByte(ct, ';'); end != -1 {
		ct = ct[:end]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

var _ Fetcher = (*HTTPFetcher)(nil)
