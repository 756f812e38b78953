package memimage

import (
	"encoding/binary"
	"time"
	"unicode/utf16"
)

// Times holds the four timestamps stored in a native record.
type Times struct {
	Created  time.Time
	Modified time.Time
	Accessed time.Time
	Changed  time.Time
}

// MFTSpec describes one NTFS MFT record to encode.
type MFTSpec struct {
	Name       string
	Size       uint64
	Directory  bool
	Deleted    bool
	Resident   bool
	Attributes uint32
	Times      Times
}

const (
	mftRecordSize = 1024
	sectorSize    = 512
	usaOffset     = 0x30
	firstAttr     = 0x38
	updateSeqNum  = 0x0B0A
)

// ToFiletime converts t to Windows FILETIME ticks. The zero time encodes as 0.
func ToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100) + 116444736000000000
}

// EncodeMFTRecord builds a 1024-byte FILE record with $STANDARD_INFORMATION,
// $FILE_NAME and, for files, an unnamed $DATA attribute. Update sequence
// fixups are applied, as on disk.
func EncodeMFTRecord(spec MFTSpec) []byte {
	le := binary.LittleEndian
	rec := make([]byte, mftRecordSize)
	copy(rec, "FILE")
	le.PutUint16(rec[0x04:], usaOffset)
	le.PutUint16(rec[0x06:], 1+mftRecordSize/sectorSize)
	le.PutUint16(rec[0x10:], 1)
	le.PutUint16(rec[0x12:], 1)
	le.PutUint16(rec[0x14:], firstAttr)
	var flags uint16
	if !spec.Deleted {
		flags |= 0x0001
	}
	if spec.Directory {
		flags |= 0x0002
	}
	le.PutUint16(rec[0x16:], flags)
	le.PutUint32(rec[0x1C:], mftRecordSize)

	off := firstAttr

	// $STANDARD_INFORMATION
	si := make([]byte, 0x48)
	le.PutUint64(si[0x00:], ToFiletime(spec.Times.Created))
	le.PutUint64(si[0x08:], ToFiletime(spec.Times.Modified))
	le.PutUint64(si[0x10:], ToFiletime(spec.Times.Changed))
	le.PutUint64(si[0x18:], ToFiletime(spec.Times.Accessed))
	le.PutUint32(si[0x20:], spec.Attributes)
	off = putResident(rec, off, 0x10, si)

	// $FILE_NAME
	name := utf16.Encode([]rune(spec.Name))
	fn := make([]byte, 0x42+2*len(name))
	le.PutUint64(fn[0x00:], 5)
	le.PutUint64(fn[0x08:], ToFiletime(spec.Times.Created))
	le.PutUint64(fn[0x10:], ToFiletime(spec.Times.Modified))
	le.PutUint64(fn[0x18:], ToFiletime(spec.Times.Changed))
	le.PutUint64(fn[0x20:], ToFiletime(spec.Times.Accessed))
	le.PutUint64(fn[0x28:], spec.Size)
	le.PutUint64(fn[0x30:], spec.Size)
	le.PutUint32(fn[0x38:], spec.Attributes)
	fn[0x40] = byte(len(name))
	fn[0x41] = 1
	for i, u := range name {
		le.PutUint16(fn[0x42+2*i:], u)
	}
	off = putResident(rec, off, 0x30, fn)

	// unnamed $DATA
	if !spec.Directory {
		if spec.Resident {
			off = putResident(rec, off, 0x80, make([]byte, spec.Size))
		} else {
			off = putNonResident(rec, off, 0x80, spec.Size)
		}
	}

	le.PutUint32(rec[off:], 0xFFFFFFFF)
	le.PutUint32(rec[0x18:], uint32(off+8))

	applyFixups(rec)
	return rec
}

func putResident(rec []byte, off int, typ uint32, content []byte) int {
	le := binary.LittleEndian
	length := (0x18 + len(content) + 7) &^ 7
	le.PutUint32(rec[off:], typ)
	le.PutUint32(rec[off+0x04:], uint32(length))
	rec[off+0x08] = 0
	le.PutUint32(rec[off+0x10:], uint32(len(content)))
	le.PutUint16(rec[off+0x14:], 0x18)
	copy(rec[off+0x18:], content)
	return off + length
}

func putNonResident(rec []byte, off int, typ uint32, size uint64) int {
	le := binary.LittleEndian
	const length = 0x48
	clusters := (size + 4095) / 4096
	le.PutUint32(rec[off:], typ)
	le.PutUint32(rec[off+0x04:], length)
	rec[off+0x08] = 1
	le.PutUint16(rec[off+0x0A:], 0x40)
	if clusters > 0 {
		le.PutUint64(rec[off+0x18:], clusters-1)
	}
	le.PutUint16(rec[off+0x20:], 0x40)
	le.PutUint64(rec[off+0x28:], clusters*4096)
	le.PutUint64(rec[off+0x30:], size)
	le.PutUint64(rec[off+0x38:], size)
	return off + length
}

// applyFixups moves the last word of each sector into the update sequence
// array and stamps the sequence number in its place.
func applyFixups(rec []byte) {
	le := binary.LittleEndian
	le.PutUint16(rec[usaOffset:], updateSeqNum)
	for i := 1; i <= len(rec)/sectorSize; i++ {
		end := i*sectorSize - 2
		copy(rec[usaOffset+2*i:], rec[end:end+2])
		le.PutUint16(rec[end:], updateSeqNum)
	}
}

// InodeSpec describes one ext inode to encode.
type InodeSpec struct {
	Mode    uint16
	UID     uint32
	GID     uint32
	Size    uint64
	Links   uint16
	Deleted bool
	Times   Times
}

// ext i_mode type bits.
const (
	ModeRegular   = 0x8000
	ModeDirectory = 0x4000
)

const inodeSize = 256

// EncodeInode builds a 256-byte ext4 inode with extra timestamp fields.
// A deleted inode has a deletion time and no links.
func EncodeInode(spec InodeSpec) []byte {
	le := binary.LittleEndian
	ino := make([]byte, inodeSize)
	le.PutUint16(ino[0x00:], spec.Mode)
	le.PutUint16(ino[0x02:], uint16(spec.UID))
	le.PutUint32(ino[0x04:], uint32(spec.Size))
	putExtTime(ino, 0x08, 0x8C, spec.Times.Accessed)
	putExtTime(ino, 0x0C, 0x84, spec.Times.Changed)
	putExtTime(ino, 0x10, 0x88, spec.Times.Modified)
	links := spec.Links
	if spec.Deleted {
		links = 0
		le.PutUint32(ino[0x14:], uint32(spec.Times.Changed.Unix()))
	} else if links == 0 {
		links = 1
	}
	le.PutUint16(ino[0x18:], uint16(spec.GID))
	le.PutUint16(ino[0x1A:], links)
	le.PutUint32(ino[0x6C:], uint32(spec.Size>>32))
	le.PutUint16(ino[0x78:], uint16(spec.UID>>16))
	le.PutUint16(ino[0x7A:], uint16(spec.GID>>16))
	le.PutUint16(ino[0x80:], 32)
	putExtTime(ino, 0x90, 0x94, spec.Times.Created)
	return ino
}

func putExtTime(ino []byte, secOff, extraOff int, t time.Time) {
	if t.IsZero() {
		return
	}
	sec := t.Unix()
	binary.LittleEndian.PutUint32(ino[secOff:], uint32(sec))
	epoch := uint32((sec - int64(int32(sec))) >> 32)
	binary.LittleEndian.PutUint32(ino[extraOff:], uint32(t.Nanosecond())<<2|epoch&3)
}
