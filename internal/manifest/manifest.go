// Package manifest reads YAML batch descriptions for the command line.
//
//	workers: 4
//	strict_batches: false
//	timeout: 30s
//	context:
//	  site: intranet
//	jobs:
//	  - url: https://example.com/logo.png
//	    path: out/logo.png
//	    asset: true
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
)

var ErrNoJobs = errors.New("manifest has no jobs")

type Manifest struct {
	Workers       int               `yaml:"workers"`
	StrictBatches bool              `yaml:"strict_batches"`
	Timeout       time.Duration     `yaml:"timeout"`
	Context       map[string]string `yaml:"context"`
	Jobs          []Job             `yaml:"jobs"`
}

type Job struct {
	URL   string `yaml:"url"`
	Path  string `yaml:"path"`
	Asset bool   `yaml:"asset"`
}

// Load reads the manifest at path. Relative job paths resolve against the
// manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest dir: %w", err)
	}
	return Parse(data, abs)
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoJobs
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if m.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", m.Workers)
	}
	if m.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", m.Timeout)
	}
	if len(m.Jobs) == 0 {
		return nil, ErrNoJobs
	}

	for i := range m.Jobs {
		p := m.Jobs[i].Path
		if p != "" && !filepath.IsAbs(p) {
			m.Jobs[i].Path = filepath.Join(baseDir, p)
		}
	}
	return &m, nil
}

// Info returns the manifest context as an ambient snapshot.
func (m *Manifest) Info() ambient.Info {
	return ambient.Info(m.Context).Clone()
}

func (m *Manifest) DownloadJobs() []domain.DownloadJob {
	jobs := make([]domain.DownloadJob, len(m.Jobs))
	for i, j := range m.Jobs {
		jobs[i] = domain.NewDownloadJob(j.Path, j.URL, j.Asset)
	}
	return jobs
}
