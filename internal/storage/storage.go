// Package storage mirrors provider result files into storage owned by this
// service. It defines the Archiver interface (port) and implementations for
// local disk and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// ErrFetchFailed is returned when a result file cannot be downloaded.
var ErrFetchFailed = errors.New("storage: fetch failed")

// Archiver copies the result files of a task and returns their new locations.
// Provider result URLs are usually short-lived; archived copies are not.
type Archiver interface {
	// Archive downloads each source URL and stores it under taskID.
	// The returned locations are in source order.
	Archive(ctx context.Context, taskID string, sourceURLs []string) ([]string, error)
}

// DefaultHTTPClient is used to download result files.
var DefaultHTTPClient = &http.Client{Timeout: 5 * time.Minute}

// fetch opens the body of sourceURL. The caller closes it.
func fetch(ctx context.Context, client *http.Client, sourceURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, sourceURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, sourceURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetchFailed, sourceURL, resp.StatusCode)
	}
	return resp.Body, nil
}

// objectName returns "<index><ext>" for a result, keeping the source extension.
func objectName(index int, sourceURL string) string {
	ext := ".mp4"
	if u, err := url.Parse(sourceURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 6 {
			ext = strings.ToLower(e)
		}
	}
	return strconv.Itoa(index) + ext
}
