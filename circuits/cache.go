package circuits

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.vocdoni.io/dvote/log"
)

const (
	downloadRetries  = 3
	progressInterval = 10 * time.Second
)

func ensureBaseDir() error {
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return fmt.Errorf("error creating the base directory: %w", err)
	}
	return nil
}

// cachePath is the location of the artifact with the given hash.
func cachePath(hash []byte) string {
	return filepath.Join(BaseDir, hex.EncodeToString(hash))
}

// readCached returns the cached content of hash, or nil content when it is
// not cached.
func readCached(hash []byte) ([]byte, error) {
	if err := ensureBaseDir(); err != nil {
		return nil, err
	}
	path := cachePath(hash)
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if CheckHashes {
		if sum := sha256.Sum256(content); !bytes.Equal(sum[:], hash) {
			return nil, fmt.Errorf("hash mismatch for file %s: expected %x, got %x", path, hash, sum)
		}
	}
	return content, nil
}

// download fetches the artifact into the cache, retrying transport failures
// and resuming partial downloads. Hash mismatches and client errors of the
// remote are not retried.
func download(ctx context.Context, remoteURL string, hash []byte) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), downloadRetries), ctx)
	return backoff.RetryNotify(func() error {
		return fetch(ctx, remoteURL, hash)
	}, b, func(err error, next time.Duration) {
		log.Warnw("artifact download failed, retrying", "url", remoteURL, "error", err.Error(), "next", next)
	})
}

func fetch(ctx context.Context, remoteURL string, hash []byte) error {
	path := cachePath(hash)
	partialPath := path + ".partial"

	var offset int64
	if info, err := os.Stat(partialPath); err == nil {
		offset = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error creating the file request: %w", err))
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing the request: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// stale partial file, start over on the next attempt
		_ = os.Remove(partialPath)
		return fmt.Errorf("cannot resume download of %s", remoteURL)
	case res.StatusCode >= 400 && res.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("error downloading file %s: http status: %d", remoteURL, res.StatusCode))
	case res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent:
		return fmt.Errorf("error downloading file %s: http status: %d", remoteURL, res.StatusCode)
	}

	hasher := sha256.New()
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if offset > 0 && res.StatusCode == http.StatusPartialContent {
		existing, err := os.ReadFile(partialPath)
		if err != nil {
			return fmt.Errorf("error reading partial download: %w", err)
		}
		hasher.Write(existing)
		flags = os.O_APPEND | os.O_WRONLY
	} else {
		offset = 0
	}
	fd, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("error opening artifact file: %w", err))
	}
	progress := &progressWriter{url: remoteURL, done: offset, size: offset + res.ContentLength, last: time.Now()}
	_, err = io.Copy(io.MultiWriter(fd, hasher, progress), res.Body)
	if cerr := fd.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("error copying data to file: %w", err)
	}

	if sum := hasher.Sum(nil); CheckHashes && !bytes.Equal(sum, hash) {
		_ = os.Remove(partialPath)
		return backoff.Permanent(fmt.Errorf("hash mismatch: expected %x, got %x", hash, sum))
	}
	if err := os.Rename(partialPath, path); err != nil {
		return backoff.Permanent(fmt.Errorf("error renaming file: %w", err))
	}
	return nil
}

// progressWriter logs the download progress every progressInterval.
type progressWriter struct {
	url  string
	done int64
	size int64
	last time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if time.Since(p.last) < progressInterval {
		return len(b), nil
	}
	p.last = time.Now()
	var percentage float64
	if p.size > 0 {
		percentage = float64(p.done) / float64(p.size) * 100
	}
	log.Debugw("download artifacts", "url", p.url,
		"downloaded", fmt.Sprintf("%.2fMiB", float64(p.done)/(1024*1024)),
		"progress", fmt.Sprintf("%.2f%%", percentage))
	return len(b), nil
}
