package filesystem

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/pkg/models"
)

// MFT record layout.
const (
	mftFlagInUse     = 0x0001
	mftFlagDirectory = 0x0002

	attrStandardInformation = 0x10
	attrFileName            = 0x30
	attrData                = 0x80
	attrEnd                 = 0xFFFFFFFF

	mftSectorSize = 512
)

// NTFSReader reads metadata from MFT records.
type NTFSReader struct {
	paths resolver
}

// NewNTFSReader opens img, which must report an NTFS filesystem.
func NewNTFSReader(img image.Image) (*NTFSReader, error) {
	if img.FilesystemType() != image.NTFS {
		return nil, fmt.Errorf("%w: image is %s, not ntfs", ErrWrongFilesystemType, img.FilesystemType())
	}
	return &NTFSReader{paths: resolver{img: img, root: img.RootReference(), foldCase: true}}, nil
}

// Type returns image.NTFS.
func (r *NTFSReader) Type() image.FilesystemType { return image.NTFS }

// ReadFile returns the contents of the unnamed data stream at path.
func (r *NTFSReader) ReadFile(path string) ([]byte, error) {
	return r.paths.readFile(path, DecodeMFTRecord)
}

// GetMetadata decodes the MFT record of path. Names match case-insensitively.
func (r *NTFSReader) GetMetadata(path string) (models.FileMetadata, error) {
	_, meta, err := r.paths.metadata(path, DecodeMFTRecord)
	return meta, err
}

// ListDirectory returns the entry names of the directory at path.
func (r *NTFSReader) ListDirectory(path string) ([]string, error) {
	return r.paths.listDirectory(path)
}

// DecodeMFTRecord normalizes one FILE record. Timestamps and attribute bits
// come from $STANDARD_INFORMATION ($FILE_NAME when it is missing); the size
// is that of the unnamed $DATA stream, else the $FILE_NAME real size.
func DecodeMFTRecord(record []byte) (models.FileMetadata, error) {
	if len(record) < 0x30 || string(record[:4]) != "FILE" {
		return models.FileMetadata{}, decodeErrorf("not an MFT FILE record")
	}
	rec := make([]byte, len(record))
	copy(rec, record)
	if err := applyFixups(rec); err != nil {
		return models.FileMetadata{}, err
	}

	le := binary.LittleEndian
	flags := le.Uint16(rec[0x16:])
	meta := models.FileMetadata{
		Allocated:   flags&mftFlagInUse != 0,
		IsDirectory: flags&mftFlagDirectory != 0,
	}

	var (
		haveSI, haveFN, haveData bool
		fnSize                   uint64
		fnTimes                  [4]uint64
		fnAttrs                  uint32
	)

	off := int(le.Uint16(rec[0x14:]))
	for {
		if off+8 > len(rec) {
			return models.FileMetadata{}, decodeErrorf("attribute list runs past record end at 0x%x", off)
		}
		typ := le.Uint32(rec[off:])
		if typ == attrEnd {
			break
		}
		length := int(le.Uint32(rec[off+4:]))
		if length < 0x18 || off+length > len(rec) {
			return models.FileMetadata{}, decodeErrorf("attribute 0x%x at 0x%x has invalid length %d", typ, off, length)
		}
		attr := rec[off : off+length]
		nonResident := attr[0x08] != 0
		nameLen := attr[0x09]

		switch typ {
		case attrStandardInformation:
			content, err := residentContent(attr, 0x24)
			if err != nil {
				return models.FileMetadata{}, err
			}
			meta.Created = filetime(le.Uint64(content[0x00:]))
			meta.Modified = filetime(le.Uint64(content[0x08:]))
			meta.MFTModified = filetime(le.Uint64(content[0x10:]))
			meta.Accessed = filetime(le.Uint64(content[0x18:]))
			meta.Attributes = le.Uint32(content[0x20:])
			haveSI = true
		case attrFileName:
			if haveFN {
				break
			}
			content, err := residentContent(attr, 0x42)
			if err != nil {
				return models.FileMetadata{}, err
			}
			fnTimes = [4]uint64{
				le.Uint64(content[0x08:]),
				le.Uint64(content[0x10:]),
				le.Uint64(content[0x18:]),
				le.Uint64(content[0x20:]),
			}
			fnSize = le.Uint64(content[0x30:])
			fnAttrs = le.Uint32(content[0x38:])
			haveFN = true
		case attrData:
			if nameLen != 0 || haveData {
				break
			}
			if nonResident {
				if len(attr) < 0x38 {
					return models.FileMetadata{}, decodeErrorf("non-resident $DATA header too short")
				}
				meta.Size = le.Uint64(attr[0x30:])
			} else {
				if len(attr) < 0x18 {
					return models.FileMetadata{}, decodeErrorf("resident $DATA header too short")
				}
				meta.Size = uint64(le.Uint32(attr[0x10:]))
			}
			haveData = true
		}
		off += length
	}

	if !haveSI && haveFN {
		meta.Created = filetime(fnTimes[0])
		meta.Modified = filetime(fnTimes[1])
		meta.MFTModified = filetime(fnTimes[2])
		meta.Accessed = filetime(fnTimes[3])
		meta.Attributes = fnAttrs
	}
	if !haveData && haveFN {
		meta.Size = fnSize
	}
	if !haveSI && !haveFN {
		return models.FileMetadata{}, decodeErrorf("record has neither $STANDARD_INFORMATION nor $FILE_NAME")
	}
	return meta, nil
}

// residentContent returns the value of a resident attribute, requiring at least minLen bytes.
func residentContent(attr []byte, minLen int) ([]byte, error) {
	if attr[0x08] != 0 {
		return nil, decodeErrorf("attribute 0x%x is unexpectedly non-resident", binary.LittleEndian.Uint32(attr))
	}
	size := int(binary.LittleEndian.Uint32(attr[0x10:]))
	start := int(binary.LittleEndian.Uint16(attr[0x14:]))
	if size < minLen || start+size > len(attr) {
		return nil, decodeErrorf("attribute 0x%x content of %d bytes at 0x%x does not fit", binary.LittleEndian.Uint32(attr), size, start)
	}
	return attr[start : start+size], nil
}

// applyFixups restores the last two bytes of every sector from the update
// sequence array, checking each against the sequence number.
func applyFixups(rec []byte) error {
	le := binary.LittleEndian
	usaOff := int(le.Uint16(rec[0x04:]))
	usaCount := int(le.Uint16(rec[0x06:]))
	if usaCount == 0 {
		return nil
	}
	if usaOff+2*usaCount > len(rec) {
		return decodeErrorf("update sequence array exceeds record")
	}
	usn := rec[usaOff : usaOff+2]
	for i := 1; i < usaCount; i++ {
		end := i*mftSectorSize - 2
		if end+2 > len(rec) {
			return decodeErrorf("update sequence covers %d sectors, record has %d bytes", usaCount-1, len(rec))
		}
		if rec[end] != usn[0] || rec[end+1] != usn[1] {
			return decodeErrorf("torn write in sector %d", i-1)
		}
		copy(rec[end:end+2], rec[usaOff+2*i:usaOff+2*i+2])
	}
	return nil
}

const filetimeEpochDelta = 116444736000000000

// filetime converts Windows FILETIME ticks to UTC; 0 maps to the zero time.
func filetime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/10_000_000, (ticks%10_000_000)*100).UTC()
}
