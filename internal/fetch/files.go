package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeFile streams r into dest through a temp file in the same directory
// and renames it into place. On any error the temp file is removed.
func writeFile(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("write destination: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync destination: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return n, fmt.Errorf("move into place: %w", err)
	}
	ok = true
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	_, err = writeFile(dst, in)
	return err
}

// copyTree copies a file or a directory tree rooted at src to dst.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.Walk(src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", path, err)
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
