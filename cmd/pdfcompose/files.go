package main

import (
	"context"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/engine"
	"github.com/wudi/pdfcompose/ir/raw"
)

// mapped maps path read-only and hands the bytes to fn. The slice is invalid
// once fn returns.
func mapped(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.Errorf("%s: empty file", path)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "map %s", path)
	}
	defer m.Unmap()
	return fn(m)
}

// load parses the PDF at path. Parsed documents do not alias the mapping.
func load(ctx context.Context, eng *engine.Engine, path string) (*raw.Document, error) {
	var doc *raw.Document
	err := mapped(path, func(data []byte) error {
		var err error
		doc, err = eng.Load(ctx, data)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return doc, nil
}

// readCopy returns the contents of path in memory the caller owns.
func readCopy(path string) ([]byte, error) {
	var out []byte
	err := mapped(path, func(data []byte) error {
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// output writes data to path, or to stdout when path is "-".
func output(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
