package fs

import (
	"bytes"
	"os"

	"github.com/natefinch/atomic"
)

// Real implements [FS] using the real filesystem.
//
// All methods are passthroughs to the os package with identical error
// semantics, except [Real.Exists] which folds os.IsNotExist into a bool
// and [Real.WriteFileAtomic] which writes via temp file + rename.
type Real struct{}

// NewReal returns a new [Real] filesystem.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Open(path string) (File, error) {
	return os.Open(path) //nolint:gosec // paths are validated by the sandbox before reaching here
}

func (r *Real) Create(path string) (File, error) {
	return os.Create(path) //nolint:gosec // paths are validated by the sandbox before reaching here
}

func (r *Real) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(path, flag, perm) //nolint:gosec // paths are validated by the sandbox before reaching here
}

func (r *Real) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // paths are validated by the sandbox before reaching here
}

// WriteFileAtomic writes data to path atomically and then applies perm.
// atomic.WriteFile creates the temp file with default permissions, so
// the chmod happens after the rename; callers that need the tight-perm
// window closed (session checkpoints) chmod the temp file themselves.
func (r *Real) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	return os.Chmod(path, perm)
}

func (r *Real) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (r *Real) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (r *Real) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Exists checks if a file exists using [os.Stat].
// Returns (true, nil) if the file exists, (false, nil) if it does not,
// or (false, err) for other errors.
func (r *Real) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}

func (r *Real) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

func (r *Real) Remove(path string) error {
	return os.Remove(path)
}

func (r *Real) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (r *Real) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Compile-time interface check.
var _ FS = (*Real)(nil)
