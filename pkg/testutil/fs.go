package testutil

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is returned by FaultFS for every injected failure
var ErrInjected = errors.New("injected filesystem failure")

// FaultFS wraps an afero.Fs and fails selected operations. Paths are
// matched by substring.
type FaultFS struct {
	afero.Fs

	mu           sync.Mutex
	failRename   string
	failCreate   string
	truncateAt   int64
	truncateName string
}

// NewFaultFS wraps fs
func NewFaultFS(fs afero.Fs) *FaultFS {
	return &FaultFS{Fs: fs}
}

// FailRename makes renames whose target contains substr fail
func (f *FaultFS) FailRename(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = substr
}

// FailCreate makes file creation fail for paths containing substr
func (f *FaultFS) FailCreate(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreate = substr
}

// TruncateWrites makes writes to files containing substr fail once n
// bytes have been written, like a full disk or a crash mid-write
func (f *FaultFS) TruncateWrites(substr string, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.truncateName = substr
	f.truncateAt = n
}

// Reset clears every injected failure
func (f *FaultFS) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename, f.failCreate, f.truncateName, f.truncateAt = "", "", "", 0
}

func matches(name, substr string) bool {
	return substr != "" && strings.Contains(name, substr)
}

func (f *FaultFS) Rename(oldname, newname string) error {
	f.mu.Lock()
	fail := matches(newname, f.failRename)
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultFS) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (f *FaultFS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f.mu.Lock()
	failCreate := flag&os.O_CREATE != 0 && matches(name, f.failCreate)
	truncate := matches(name, f.truncateName)
	limit := f.truncateAt
	f.mu.Unlock()

	if failCreate {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrInjected}
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || !truncate {
		return file, err
	}
	return &truncatingFile{File: file, remaining: limit}, nil
}

type truncatingFile struct {
	afero.File
	remaining int64
}

func (t *truncatingFile) Write(p []byte) (int, error) {
	if int64(len(p)) <= t.remaining {
		t.remaining -= int64(len(p))
		return t.File.Write(p)
	}
	n, _ := t.File.Write(p[:t.remaining])
	t.remaining = 0
	return n, &os.PathError{Op: "write", Path: t.Name(), Err: ErrInjected}
}
