// Package storage writes finished files to disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/domain"
)

var (
	writeFailed = domain.ErrorInfo{
		Category:        domain.CategoryFileSystem,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "Failed to write file",
		SuggestedAction: "Check the destination directory",
	}
	accessDenied = domain.ErrorInfo{
		Category:        domain.CategoryFileSystem,
		Severity:        domain.SeverityHigh,
		Retriable:       false,
		Description:     "File permission denied",
		SuggestedAction: "Check file permissions",
	}
)

// AtomicWriter writes a file through a temporary sibling and renames it into place, so readers never
// observe a half written file.
type AtomicWriter struct {
	fs      afero.Fs
	dirPerm os.FileMode
}

func NewAtomicWriter(fsys afero.Fs) *AtomicWriter {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &AtomicWriter{fs: fsys, dirPerm: 0o755}
}

// WriteFile creates missing parent directories, writes and syncs data, renames it over path and
// checks the size on disk. Failures are returned as FileSystem *domain.Error values.
func (w *AtomicWriter) WriteFile(ctx context.Context, path string, data []byte) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := w.fs.MkdirAll(dir, w.dirPerm); err != nil {
		return fsError("create directory", path, err)
	}

	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fsError("create temp file", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = w.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fsError("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fsError("sync", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fsError("close", path, err)
	}

	if err := w.fs.Rename(tmpName, path); err != nil {
		return fsError("rename", path, err)
	}

	fi, err := w.fs.Stat(path)
	if err != nil {
		return fsError("verify", path, err)
	}
	if fi.Size() != int64(len(data)) {
		return fsError("verify", path, fmt.Errorf("size on disk %d, expected %d", fi.Size(), len(data)))
	}
	return nil
}

// Exists reports whether path is present.
func (w *AtomicWriter) Exists(path string) bool {
	ok, err := afero.Exists(w.fs, path)
	return err == nil && ok
}

func fsError(op, path string, err error) error {
	info := classify.Classify(err, map[string]any{"op": op, "path": path})
	switch {
	case info.Category == domain.CategoryFileSystem:
	case errors.Is(err, fs.ErrPermission):
		info = accessDenied.WithContext(info.Context)
	default:
		info = writeFailed.WithContext(info.Context)
	}
	return domain.NewError(info, fmt.Errorf("%s: %w", op, err))
}
