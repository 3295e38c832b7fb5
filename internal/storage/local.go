package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores uploaded files on the local filesystem, one directory per
// record: <base>/<collection>/<recordID>/<fileID>. Previews sit next to the
// original as <fileID>.<format>.
type Local struct {
	basePath string
}

func NewLocal(basePath string) *Local {
	return &Local{basePath: basePath}
}

func clean(part string) string {
	part = strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(part)
	if part == "" || part == "." || part == ".." {
		return "_"
	}
	return part
}

func (s *Local) dir(collection, recordID string) string {
	return filepath.Join(s.basePath, clean(collection), clean(recordID))
}

func previewName(fileID, format string) string {
	if format == "" {
		return clean(fileID)
	}
	return clean(fileID) + "." + clean(format)
}

func (s *Local) write(path string, reader io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, reader)
	if err != nil {
		return n, fmt.Errorf("write file: %w", err)
	}
	return n, nil
}

// Save writes an original file and returns its size.
func (s *Local) Save(_ context.Context, collection, recordID, fileID string, reader io.Reader) (int64, error) {
	return s.write(filepath.Join(s.dir(collection, recordID), previewName(fileID, "")), reader)
}

// SavePreview writes a resized rendition of fileID.
func (s *Local) SavePreview(_ context.Context, collection, recordID, fileID, format string, reader io.Reader) error {
	_, err := s.write(filepath.Join(s.dir(collection, recordID), previewName(fileID, format)), reader)
	return err
}

// Open returns the preview for format when it exists, else the original.
func (s *Local) Open(_ context.Context, collection, recordID, fileID, format string) (io.ReadCloser, error) {
	dir := s.dir(collection, recordID)
	if format != "" {
		f, err := os.Open(filepath.Join(dir, previewName(fileID, format)))
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open preview: %w", err)
		}
	}
	f, err := os.Open(filepath.Join(dir, previewName(fileID, "")))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// RemoveRecord deletes every file stored for a record.
func (s *Local) RemoveRecord(_ context.Context, collection, recordID string) error {
	if err := os.RemoveAll(s.dir(collection, recordID)); err != nil {
		return fmt.Errorf("remove files: %w", err)
	}
	return nil
}
