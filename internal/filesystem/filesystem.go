// Package filesystem resolves paths inside an image and normalizes the
// filesystem-native metadata records (NTFS MFT entries, ext inodes) into
// models.FileMetadata.
package filesystem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

var (
	// ErrWrongFilesystemType is returned when a reader is opened on an image of another family
	ErrWrongFilesystemType = errors.New("wrong filesystem type")

	// ErrDecode is returned when a native metadata record is malformed
	ErrDecode = errors.New("metadata decode error")

	// ErrIsDirectory is returned by ReadFile for directories
	ErrIsDirectory = errors.New("is a directory")
)

// Reader is the filesystem-agnostic view used by the OS collectors.
// Paths are slash separated and relative to the volume root.
type Reader interface {
	Type() image.FilesystemType
	ReadFile(path string) ([]byte, error)
	GetMetadata(path string) (models.FileMetadata, error)
	ListDirectory(path string) ([]string, error)
}

// Owner holds the numeric owner of a file.
type Owner struct {
	UID uint32
	GID uint32
}

// OwnerReader is implemented by readers whose filesystem records numeric
// ownership (ext).
type OwnerReader interface {
	GetOwner(path string) (Owner, error)
}

// Open returns the reader variant matching the image's filesystem family.
func Open(img image.Image) (Reader, error) {
	switch img.FilesystemType() {
	case image.NTFS:
		return NewNTFSReader(img)
	case image.Extent:
		return NewExtReader(img)
	default:
		return nil, fmt.Errorf("%w: unsupported filesystem %s", ErrWrongFilesystemType, img.FilesystemType())
	}
}

// resolver walks directory listings from the root to a path.
type resolver struct {
	img      image.Image
	root     image.Reference
	foldCase bool
}

// resolve returns the canonical path (names as stored) and reference of p.
func (r resolver) resolve(p string) (string, image.Reference, error) {
	parts := strings.Split(strings.Trim(image.NormalizePath(p), "/"), "/")
	canonical := ""
	ref := r.root
	for _, part := range parts {
		if part == "" {
			continue
		}
		entries, err := r.img.ListDirectory(canonical + "/")
		if err != nil {
			return "", 0, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part || (r.foldCase && strings.EqualFold(e.Name, part)) {
				canonical += "/" + e.Name
				ref = e.Reference
				found = true
				break
			}
		}
		if !found {
			return "", 0, fmt.Errorf("%w: %s (at %q)", image.ErrNotFound, p, part)
		}
	}
	if canonical == "" {
		canonical = "/"
	}
	return canonical, ref, nil
}

func (r resolver) listDirectory(p string) ([]string, error) {
	canonical, _, err := r.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := r.img.ListDirectory(canonical)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// metadataDecoder turns a native record into FileMetadata.
type metadataDecoder func(record []byte) (models.FileMetadata, error)

func (r resolver) metadata(p string, decode metadataDecoder) (string, models.FileMetadata, error) {
	canonical, ref, err := r.resolve(p)
	if err != nil {
		return "", models.FileMetadata{}, err
	}
	record, err := r.img.NativeMetadata(ref)
	if err != nil {
		return "", models.FileMetadata{}, err
	}
	meta, err := decode(record)
	if err != nil {
		return "", models.FileMetadata{}, fmt.Errorf("%s: %w", canonical, err)
	}
	return canonical, meta, nil
}

func (r resolver) readFile(p string, decode metadataDecoder) ([]byte, error) {
	canonical, meta, err := r.metadata(p, decode)
	if err != nil {
		return nil, err
	}
	if meta.IsDirectory {
		return nil, fmt.Errorf("%s: %w", canonical, ErrIsDirectory)
	}
	data, err := r.img.ReadBytes(canonical, 0, int64(meta.Size))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}
