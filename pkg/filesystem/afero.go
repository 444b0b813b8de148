package filesystem

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Syncer is implemented by files that can flush to stable storage
type Syncer interface {
	Sync() error
}

// TempName returns a sibling name for path used while writing it
func TempName(path string) string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+hex.EncodeToString(b[:]))
}

// AtomicWrite writes data to path through a temporary sibling, syncs it
// and renames it over path. Readers see either the old or the new file.
func AtomicWrite(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	return AtomicWriteFrom(fs, path, bytes.NewReader(data), perm)
}

// AtomicWriteFrom is AtomicWrite for a stream
func AtomicWriteFrom(fs afero.Fs, path string, r io.Reader, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := TempName(path)
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if s, ok := f.(Syncer); ok {
		if err := s.Sync(); err != nil {
			_ = f.Close()
			_ = fs.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}

	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}

// CopyFile copies src to dst inside fs using AtomicWriteFrom
func CopyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	return AtomicWriteFrom(fs, dst, in, perm)
}

// Exists reports whether path exists in fs
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// PruneEmptyDirs removes dir and its parents while they are empty,
// stopping at root (which is never removed).
func PruneEmptyDirs(fs afero.Fs, root, dir string) error {
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)

	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if ok, _ := afero.Exists(fs, dir); !ok {
			dir = filepath.Dir(dir)
			continue
		}
		empty, err := afero.IsEmpty(fs, dir)
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}
		if err := fs.Remove(dir); err != nil {
			return err
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// ListFiles returns every regular file below dir as slash-separated
// paths relative to dir, sorted.
func ListFiles(fs afero.Fs, dir string) ([]string, error) {
	var files []string
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
