// Package image defines the random-access view of a disk image that the
// filesystem readers consume, and provides a Sleuth Kit backed implementation.
package image

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a path or reference does not exist in the image
	ErrNotFound = errors.New("not found in image")

	// ErrIO is returned when the image cannot be read
	ErrIO = errors.New("image i/o error")
)

// FilesystemType is the family of the filesystem found in the image
type FilesystemType int

// Filesystem families.
const (
	Other FilesystemType = iota
	NTFS
	Extent
)

func (t FilesystemType) String() string {
	switch t {
	case NTFS:
		return "ntfs"
	case Extent:
		return "ext"
	default:
		return "other"
	}
}

// Reference is the filesystem-native identifier of a directory entry:
// the MFT record number on NTFS, the inode number on ext.
type Reference uint64

// EntryType is the kind of a directory entry
type EntryType int

// Directory entry kinds.
const (
	EntryFile EntryType = iota
	EntryDirectory
	EntryOther
)

// DirEntry is one entry of a directory listing
type DirEntry struct {
	Name      string
	Reference Reference
	Type      EntryType
}

// Image is random access to the files of one filesystem inside a disk image.
// Paths are slash separated and relative to the filesystem root.
type Image interface {
	FilesystemType() FilesystemType
	RootReference() Reference
	ReadBytes(path string, offset, length int64) ([]byte, error)
	ListDirectory(path string) ([]DirEntry, error)
	NativeMetadata(ref Reference) ([]byte, error)
}

// NormalizePath converts Windows-style paths to the slash separated,
// rooted form used by Image implementations.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		p = p[2:]
	}
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
