package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// LocalArchiver implements Archiver on local disk. It also provides the
// temp-file staging used by S3Archiver.
type LocalArchiver struct {
	dir    string
	client *http.Client
}

var _ Archiver = (*LocalArchiver)(nil)

// NewLocalArchiver creates a new LocalArchiver rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalArchiver(dir string, client *http.Client) (*LocalArchiver, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "videotask")
	}
	if client == nil {
		client = DefaultHTTPClient
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	return &LocalArchiver{dir: dir, client: client}, nil
}

// Dir returns the archive root.
func (s *LocalArchiver) Dir() string {
	return s.dir
}

// Archive downloads every source URL into <dir>/<taskID>/ and returns the
// absolute file paths.
func (s *LocalArchiver) Archive(ctx context.Context, taskID string, sourceURLs []string) ([]string, error) {
	taskDir := filepath.Join(s.dir, filepath.Base(taskID))
	if err := os.MkdirAll(taskDir, 0750); err != nil {
		return nil, fmt.Errorf("create task directory: %w", err)
	}

	paths := make([]string, 0, len(sourceURLs))
	for i, src := range sourceURLs {
		body, err := fetch(ctx, s.client, src)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(taskDir, objectName(i, src))
		err = writeFile(dest, body)
		_ = body.Close()
		if err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func writeFile(dest string, data io.Reader) error {
	f, err := os.Create(dest) // #nosec G304 - dest is built from the archive root
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("write archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("close archive file: %w", err)
	}
	return nil
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalArchiver) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.dir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// LoadTemp opens a temporary file. The caller closes it.
func (s *LocalArchiver) LoadTemp(ctx context.Context, path string) (*os.File, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalArchiver) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}
