// Package download fetches image artifacts over HTTP with byte-range resume
// support. A partial transfer is kept as a .tmp file next to the destination
// and continued on the next invocation.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// ErrDownload is the retryable transfer failure kind. Re-invocation resumes
// from the partial .tmp file.
var ErrDownload = fmt.Errorf("download failed")

// Downloader performs HTTP transfers into the artifact cache.
type Downloader struct {
	client *http.Client
}

// New creates a Downloader. A nil client falls back to http.DefaultClient.
func New(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// Fetch downloads url into dest. Any partial .tmp file from a previous run
// is continued with a Range request; the .tmp file is renamed into place
// only after the full body has been received.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (int64, error) {
	tmpPath := dest + ".tmp"

	var offset int64
	if fi, err := os.Stat(tmpPath); err == nil {
		offset = fi.Size()
	}

	slog.Info("download_start", "url", url, "dest", dest, "resume_offset", offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build request")
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
		slog.Info("download_resuming", "url", url, "offset", offset)
	case http.StatusOK:
		// Server ignored the range; start over.
		flags |= os.O_TRUNC
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already covers the full body.
		slog.Info("download_already_complete", "url", url, "size", offset)
		if err := os.Rename(tmpPath, dest); err != nil {
			return 0, errors.Wrap(err, "failed to finalize download")
		}
		return offset, nil
	default:
		return 0, fmt.Errorf("%w: GET %s: unexpected status %s", ErrDownload, url, resp.Status)
	}

	f, err := os.OpenFile(tmpPath, flags, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open partial file")
	}

	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		// Keep the partial file for the next attempt.
		slog.Error("download_interrupted", "url", url, "received", offset+written, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	total := offset + written
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, errors.Wrap(err, "failed to finalize download")
	}

	slog.Info("download_complete", "url", url, "size_mb", total/1024/1024, "dest", dest)
	return total, nil
}

// FetchSidecar retrieves a small plain-text file (the digest sidecar) and
// returns its body.
func (d *Downloader) FetchSidecar(ctx context.Context, url string) (string, error) {
	slog.Info("sidecar_fetch", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build sidecar request")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: GET %s: unexpected status %s", ErrDownload, url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	return string(body), nil
}
