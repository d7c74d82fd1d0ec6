package domain

import "time"

// Asset is a fetched file registered in object storage.
type Asset struct {
	ID        int64
	Key       string
	Location  string
	LocalPath string
	Size      int64
	Owner     string
	Site      string
	CreatedAt time.Time
}
