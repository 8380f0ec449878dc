package objectstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Dir is a filesystem-backed Store for local runs. Buckets map to
// directories under the root; object keys map to file paths. Content types
// are not persisted.
type Dir struct {
	root string
}

// NewDir returns a Store rooted at the given directory, creating it if
// needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, eris.New("objectstore: dir store needs a root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrap(err, "objectstore: create root")
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(bucket, key string) string {
	return filepath.Join(d.root, bucket, filepath.FromSlash(key))
}

func (d *Dir) GetBytes(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(d.path(bucket, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: read object")
	}
	return data, nil
}

func (d *Dir) PutBytes(_ context.Context, bucket, key string, data []byte, _ string) error {
	target := d.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return eris.Wrap(err, "objectstore: create object dir")
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return eris.Wrap(err, "objectstore: write object")
	}
	return nil
}

func (d *Dir) Exists(_ context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(d.path(bucket, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "objectstore: stat object")
	}
	return true, nil
}

func (d *Dir) List(_ context.Context, bucket, prefix string) ([]string, error) {
	base := filepath.Join(d.root, bucket)
	var keys []string
	err := filepath.WalkDir(base, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "objectstore: list objects")
	}
	sort.Strings(keys)
	return keys, nil
}
