package export

import (
	"fmt"
	"os"
	"path/filepath"
)

// ExportIOError reports a failed write. When it is returned nothing has been
// left at Path.
type ExportIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *ExportIOError) Error() string {
	return fmt.Sprintf("export: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExportIOError) Unwrap() error { return e.Err }

// writeFileAtomic writes a single file through a temporary sibling that is
// renamed over path once write succeeds.
func writeFileAtomic(path string, write func(f *os.File) error) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ExportIOError{Path: path, Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return &ExportIOError{Path: path, Op: "stage", Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if err := write(tmp); err != nil {
		tmp.Close()
		cleanup()
		return &ExportIOError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &ExportIOError{Path: path, Op: "write", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return &ExportIOError{Path: path, Op: "rename", Err: err}
	}
	return nil
}
