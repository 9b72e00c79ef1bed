package fs

import (
	"io"
	"os"
)

// File is a temporary file the local blob store writes before publishing it
// under its final name.
type File interface {
	io.Writer
	Sync() error
	Close() error
	Name() string
}

// FileSystem is the part of the os package the local blob store writes
// through.
type FileSystem interface {
	// CreateTemp creates a new file in dir like os.CreateTemp.
	CreateTemp(dir, pattern string) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
}

// OS implements FileSystem with the os package.
type OS struct{}

func (OS) CreateTemp(dir, pattern string) (File, error) {
	return os.CreateTemp(dir, pattern)
}

func (OS) Remove(name string) error                     { return os.Remove(name) }
func (OS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (OS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (OS) ReadDir(name string) ([]os.DirEntry, error)   { return os.ReadDir(name) }

// Default is the file system used when none is configured.
var Default FileSystem = OS{}
