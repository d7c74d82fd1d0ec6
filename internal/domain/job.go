package domain

// DownloadJob describes one unit of work: fetch URL into Path and
// optionally register the fetched file as an asset.
type DownloadJob struct {
	Path        string
	URL         string
	CreateAsset bool
}

func NewDownloadJob(path, url string, createAsset bool) DownloadJob {
	return DownloadJob{Path: path, URL: url, CreateAsset: createAsset}
}

// ExecutionResult is the outcome of a job or of one step of a job.
// Message holds the local path or asset location on success and the
// error detail on failure.
type ExecutionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func Succeeded(message string) ExecutionResult {
	return ExecutionResult{OK: true, Message: message}
}

func Failed(err error) ExecutionResult {
	return ExecutionResult{OK: false, Message: err.Error()}
}

// AllOK reports whether every result in rs succeeded. An empty slice is not OK.
func AllOK(rs []ExecutionResult) bool {
	if len(rs) == 0 {
		return false
	}
	for _, r := range rs {
		if !r.OK {
			return false
		}
	}
	return true
}
