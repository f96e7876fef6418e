package vfat

import (
	"errors"
	"io"
	"io/fs"
)

type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode {
	return g.FileInfo.Mode().Type()
}

func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.FileInfo, nil
}

type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.File.Stat()
}

func (g GoFile) Read(bytes []byte) (int, error) {
	return g.File.Read(bytes)
}

func (g GoFile) Close() error {
	return g.File.Close()
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)

	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}

	return goEntries, err
}

// GoFs wraps the afero FAT32 implementation to be compatible with fs.FS.
// It embeds the Fs by pointer, the engine holds a mutex which must not be
// copied.
type GoFs struct {
	*Fs
}

// NewGoFS opens a FAT32 filesystem from the given reader as fs.FS compatible filesystem.
func NewGoFS(reader io.ReadSeeker) (*GoFs, error) {
	fatFs, err := New(reader)
	if err != nil {
		return nil, err
	}

	return &GoFs{fatFs}, nil
}

// NewGoFSSkipChecks opens a FAT32 filesystem from the given reader as fs.FS compatible
// filesystem just like NewGoFS but it skips the boot sector validation which may allow
// you to open not perfectly standard FAT32 filesystems.
// Use with caution!
func NewGoFSSkipChecks(reader io.ReadSeeker) (*GoFs, error) {
	fatFs, err := NewSkipChecks(reader)
	if err != nil {
		return nil, err
	}

	return &GoFs{fatFs}, nil
}

func (g *GoFs) Open(name string) (fs.File, error) {
	file, err := g.Fs.Open(name)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}
