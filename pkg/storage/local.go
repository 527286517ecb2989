package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
)

// Local is an ObjectStore over a directory, for development and tests.
type Local struct {
	root   string
	logger ectologger.Logger
}

func NewLocal(root string, logger ectologger.Logger) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return &Local{root: root, logger: logger}, nil
}

func (l *Local) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *Local) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{Name: filepath.ToSlash(rel), Size: info.Size(), Updated: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.root, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return objects, nil
}

func (l *Local) Download(ctx context.Context, name string) ([]byte, error) {
	p, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return data, err
}

func (l *Local) Move(ctx context.Context, name, dest string) error {
	src, err := l.path(name)
	if err != nil {
		return err
	}
	dst, err := l.path(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", name, dest, err)
	}
	l.logger.WithContext(ctx).Infof("Moved %s to %s", name, dest)
	return nil
}

func (l *Local) Upload(ctx context.Context, name string, data []byte) error {
	p, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}
