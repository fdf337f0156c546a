package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalFS struct {
	Root string
}

func (l LocalFS) Put(ctx context.Context, key string, r io.Reader) (Object, error) {
	clean := filepath.Clean(key)
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return Object{}, fmt.Errorf("invalid blob key %q", key)
	}
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return Object{}, err
	}
	abs := filepath.Join(root, clean)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Object{}, err
	}
	f, err := os.Create(abs)
	if err != nil {
		return Object{}, err
	}
	n, copyErr := io.Copy(f, ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(abs)
		return Object{}, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(abs)
		return Object{}, closeErr
	}
	return Object{Location: abs, Size: n}, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
