package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileDisplay serves an operator-supplied snapshot from disk. The file is
// read anew on every grab, so replacing it between cycles is enough to
// feed a fresh map.
type FileDisplay struct {
	Path string
}

var _ Display = (*FileDisplay)(nil)

// Acquire implements [Display]. An unreadable file counts as a refusal.
func (d *FileDisplay) Acquire(_ context.Context) (Handle, error) {
	if d.Path == "" {
		return nil, fmt.Errorf("file display: no path configured: %w", ErrPermissionDenied)
	}
	if _, err := os.Stat(d.Path); err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file display: %w: %w", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("file display: stat %s: %w", d.Path, err)
	}
	return &fileHandle{path: d.Path}, nil
}

type fileHandle struct {
	path string
}

func (h *fileHandle) GrabFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(h.path)
}

func (h *fileHandle) Release() error { return nil }
