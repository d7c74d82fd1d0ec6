package storage

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		location string
		bucket   string
		want     string
		wantErr  string
	}{
		{"s3://assets/site/a.png", "assets", "site/a.png", ""},
		{"s3://assets//site/a.png", "", "site/a.png", ""},
		{"s3://other/a.png", "assets", "", "s3 bucket mismatch"},
		{"s3://assets", "assets", "", "s3 key missing"},
		{"s3://assets/", "assets", "", "s3 key missing"},
		{"https://assets/a.png", "assets", "", "invalid s3 location"},
		{"s3:///a.png", "", "", "invalid s3 location"},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, err := ParseLocation(tt.location, tt.bucket)
			if tt.wantErr != "" {
				be.Err(t, err, tt.wantErr)
				return
			}
			be.Err(t, err, nil)
			be.Equal(t, got, tt.want)
		})
	}
}

func TestLocationRoundTrip(t *testing.T) {
	loc := Location("assets", "/site/x/a.png")
	be.Equal(t, loc, "s3://assets/site/x/a.png")
	key, err := ParseLocation(loc, "assets")
	be.Err(t, err, nil)
	be.Equal(t, key, "site/x/a.png")
}

func TestProgressReporter(t *testing.T) {
	var calls [][2]int64
	p := newProgressReporter(10, func(done, total int64) {
		calls = append(calls, [2]int64{done, total})
	})
	p.report(0)
	n, err := p.Write(make([]byte, 10))
	be.Err(t, err, nil)
	be.Equal(t, n, 10)
	p.flush()

	be.Equal(t, calls[0], [2]int64{0, 10})
	be.Equal(t, calls[len(calls)-1], [2]int64{10, 10})
	be.True(t, newProgressReporter(10, nil) == nil)
}
