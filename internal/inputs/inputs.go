// Package inputs discovers and loads image files from the local filesystem.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/mosaic/internal/domain/session"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
)

// ErrNotImage is returned when an explicitly named file is not an image
var ErrNotImage = errors.New("not an image")

// Discover expands sources into image file paths. A source is a file, a
// directory walked recursively, or a doublestar glob such as "tiles/**/*.jpg".
// Each source's matches are sorted; sources keep their given order and a path
// is listed once.
func Discover(ctx context.Context, sources []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(paths []string) {
		sort.Strings(paths)
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if isGlob(src) {
			paths, err := glob(src)
			if err != nil {
				return nil, err
			}
			add(paths)
			continue
		}

		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("tile source: %w", err)
		}
		if info.IsDir() {
			paths, err := walk(ctx, src)
			if err != nil {
				return nil, err
			}
			add(paths)
			continue
		}

		ok, err := IsImageFile(src)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", src, ErrNotImage)
		}
		add([]string{filepath.Clean(src)})
	}

	return out, nil
}

// Load reads paths into blobs named by base name
func Load(ctx context.Context, paths []string) ([]session.Blob, error) {
	blobs := make([]session.Blob, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

// LoadFile reads one image file
func LoadFile(path string) (session.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Blob{}, fmt.Errorf("read image: %w", err)
	}
	if !IsImage(data) {
		return session.Blob{}, fmt.Errorf("%s: %w", path, ErrNotImage)
	}
	return session.Blob{Name: filepath.Base(path), Data: data}, nil
}

// IsImage reports whether data sniffs as an image type
func IsImage(data []byte) bool {
	return isImageType(mimetype.Detect(data))
}

// IsImageFile sniffs the head of a file
func IsImageFile(path string) (bool, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("detect type: %w", err)
	}
	return isImageType(mtype), nil
}

func isImageType(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

func isGlob(src string) bool {
	return strings.ContainsAny(src, "*?[{")
}

func glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	var out []string
	for _, m := range matches {
		if ok, err := IsImageFile(m); err == nil && ok {
			out = append(out, filepath.Clean(m))
		}
	}
	return out, nil
}

// walk collects image files under root. Unreadable entries are skipped.
func walk(ctx context.Context, root string) ([]string, error) {
	var (
		mu    sync.Mutex
		found []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if ok, err := IsImageFile(p); err != nil || !ok {
			return nil
		}

		mu.Lock()
		found = append(found, filepath.Clean(p))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return found, nil
}
