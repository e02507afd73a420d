package output

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gustycube/skywatch/internal/emit"
)

// FileSink writes each snapshot to a single file, replacing it atomically.
type FileSink struct {
	path   string
	format Format
}

func NewFileSink(path string, format Format) *FileSink {
	return &FileSink{path: path, format: format}
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Persist(ctx context.Context, records []emit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := WriteRecords(bw, s.format, records); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
