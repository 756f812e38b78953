package filesystem

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// ext inode layout.
const (
	extGoodOldInodeSize = 128
	extModeTypeMask     = 0xF000
	extModeDirectory    = 0x4000

	offMode       = 0x00
	offUIDLo      = 0x02
	offSizeLo     = 0x04
	offAtime      = 0x08
	offCtime      = 0x0C
	offMtime      = 0x10
	offDtime      = 0x14
	offGIDLo      = 0x18
	offLinks      = 0x1A
	offSizeHigh   = 0x6C
	offUIDHigh    = 0x78
	offGIDHigh    = 0x7A
	offExtraIsize = 0x80
	offCtimeExtra = 0x84
	offMtimeExtra = 0x88
	offAtimeExtra = 0x8C
	offCrtime     = 0x90
	offCrtimeXtra = 0x94
)

// ExtReader reads metadata from ext2/3/4 inodes.
type ExtReader struct {
	paths resolver
}

// NewExtReader opens img, which must report an ext filesystem.
func NewExtReader(img image.Image) (*ExtReader, error) {
	if img.FilesystemType() != image.Extent {
		return nil, fmt.Errorf("%w: image is %s, not ext", ErrWrongFilesystemType, img.FilesystemType())
	}
	return &ExtReader{paths: resolver{img: img, root: img.RootReference()}}, nil
}

// Type returns image.Extent.
func (r *ExtReader) Type() image.FilesystemType { return image.Extent }

// ReadFile returns the contents of the regular file at path.
func (r *ExtReader) ReadFile(path string) ([]byte, error) {
	return r.paths.readFile(path, DecodeInode)
}

// GetMetadata decodes the inode of path. Names match exactly.
func (r *ExtReader) GetMetadata(path string) (models.FileMetadata, error) {
	_, meta, err := r.paths.metadata(path, DecodeInode)
	return meta, err
}

// GetOwner returns the owning user and group ids of path.
func (r *ExtReader) GetOwner(path string) (Owner, error) {
	canonical, ref, err := r.paths.resolve(path)
	if err != nil {
		return Owner{}, err
	}
	record, err := r.paths.img.NativeMetadata(ref)
	if err != nil {
		return Owner{}, err
	}
	owner, err := DecodeInodeOwner(record)
	if err != nil {
		return Owner{}, fmt.Errorf("%s: %w", canonical, err)
	}
	return owner, nil
}

// ListDirectory returns the entry names of the directory at path.
func (r *ExtReader) ListDirectory(path string) ([]string, error) {
	return r.paths.listDirectory(path)
}

// DecodeInode normalizes one raw inode. i_mode is kept as Attributes and
// the inode change time is reported as MFTModified. Created is the zero
// time unless the inode carries i_crtime.
func DecodeInode(inode []byte) (models.FileMetadata, error) {
	if len(inode) < extGoodOldInodeSize {
		return models.FileMetadata{}, decodeErrorf("inode of %d bytes, need %d", len(inode), extGoodOldInodeSize)
	}
	le := binary.LittleEndian

	extra := 0
	if len(inode) > offExtraIsize+2 {
		extra = int(le.Uint16(inode[offExtraIsize:]))
		if offExtraIsize+extra > len(inode) {
			return models.FileMetadata{}, decodeErrorf("i_extra_isize %d exceeds inode of %d bytes", extra, len(inode))
		}
	}
	// has reports whether the extra field ending at off is present
	has := func(end int) bool { return offExtraIsize+extra >= end }

	stamp := func(secOff, extraOff int) time.Time {
		var x uint32
		if extra > 0 && has(extraOff+4) {
			x = le.Uint32(inode[extraOff:])
		}
		return extTime(le.Uint32(inode[secOff:]), x)
	}

	mode := le.Uint16(inode[offMode:])
	meta := models.FileMetadata{
		Accessed:    stamp(offAtime, offAtimeExtra),
		MFTModified: stamp(offCtime, offCtimeExtra),
		Modified:    stamp(offMtime, offMtimeExtra),
		Size:        uint64(le.Uint32(inode[offSizeLo:])) | uint64(le.Uint32(inode[offSizeHigh:]))<<32,
		Allocated:   le.Uint32(inode[offDtime:]) == 0 && le.Uint16(inode[offLinks:]) > 0,
		IsDirectory: mode&extModeTypeMask == extModeDirectory,
		Attributes:  uint32(mode),
	}
	if extra > 0 && has(offCrtime+4) {
		meta.Created = stamp(offCrtime, offCrtimeXtra)
	}
	return meta, nil
}

// DecodeInodeOwner returns i_uid and i_gid, joining the low halves with
// the high halves kept in the Linux osd2 area.
func DecodeInodeOwner(inode []byte) (Owner, error) {
	if len(inode) < extGoodOldInodeSize {
		return Owner{}, decodeErrorf("inode of %d bytes, need %d", len(inode), extGoodOldInodeSize)
	}
	le := binary.LittleEndian
	return Owner{
		UID: uint32(le.Uint16(inode[offUIDLo:])) | uint32(le.Uint16(inode[offUIDHigh:]))<<16,
		GID: uint32(le.Uint16(inode[offGIDLo:])) | uint32(le.Uint16(inode[offGIDHigh:]))<<16,
	}, nil
}

// extTime combines a 32-bit seconds field with its extra field: the low two
// bits extend the epoch, the rest are nanoseconds. Zero seconds with no
// extra data is the zero time.
func extTime(sec uint32, extra uint32) time.Time {
	if sec == 0 && extra == 0 {
		return time.Time{}
	}
	s := int64(int32(sec)) + int64(extra&3)<<32
	return time.Unix(s, int64(extra>>2)).UTC()
}
