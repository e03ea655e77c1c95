// Package fs provides the filesystem layer for the cracking engine:
// a small [FS] interface over the os package, atomic writes, flock(2)
// based locking for session checkpoints, and secure deletion of
// materialized hash files.
package fs

import (
	"io"
	"os"
)

// File represents an open file descriptor.
//
// Satisfied by [os.File]; usable with bufio, io, and encoding/json.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the file descriptor, used for flock(2).
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk.
	Sync() error
}

// FS defines the filesystem operations the engine performs.
//
// [Real] is the production implementation. Methods mirror their os
// package equivalents so call sites read like plain os calls.
type FS interface {
	// Open opens a file for reading. See [os.Open].
	Open(path string) (File, error)

	// Create creates or truncates a file for writing. See [os.Create].
	Create(path string) (File, error)

	// OpenFile opens a file with explicit flags and permissions.
	// See [os.OpenFile].
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadFile reads an entire file into memory. See [os.ReadFile].
	// Large hash files should be streamed via [FS.Open] instead.
	ReadFile(path string) ([]byte, error)

	// WriteFileAtomic writes data via temp file + rename so a crash
	// never leaves a partial file at path.
	WriteFileAtomic(path string, data []byte, perm os.FileMode) error

	// ReadDir reads a directory and returns its entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info. See [os.Stat].
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Chmod changes the mode of the named file. See [os.Chmod].
	Chmod(path string, mode os.FileMode) error

	// Remove deletes a file or empty directory. See [os.Remove].
	Remove(path string) error

	// RemoveAll deletes a path and any children. See [os.RemoveAll].
	RemoveAll(path string) error

	// Rename moves a file. Atomic on the same filesystem. See [os.Rename].
	Rename(oldpath, newpath string) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
