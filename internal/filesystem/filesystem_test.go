package filesystem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilexum-group/imgtriage/internal/image"
	"github.com/ilexum-group/imgtriage/internal/image/memimage"
)

var fixtureTimes = memimage.Times{
	Created:  time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
	Modified: time.Date(2022, 1, 2, 3, 4, 5, 123456700, time.UTC),
	Accessed: time.Date(2023, 6, 7, 8, 9, 10, 0, time.UTC),
	Changed:  time.Date(2022, 1, 2, 3, 4, 6, 0, time.UTC),
}

func TestOpenSelectsVariant(t *testing.T) {
	fs, err := Open(memimage.New(image.NTFS))
	require.NoError(t, err)
	assert.IsType(t, &NTFSReader{}, fs)
	assert.Equal(t, image.NTFS, fs.Type())

	fs, err = Open(memimage.New(image.Extent))
	require.NoError(t, err)
	assert.IsType(t, &ExtReader{}, fs)
	assert.Equal(t, image.Extent, fs.Type())

	_, err = Open(memimage.New(image.Other))
	require.ErrorIs(t, err, ErrWrongFilesystemType)
}

func TestReaderRejectsWrongFamily(t *testing.T) {
	_, err := NewNTFSReader(memimage.New(image.Extent))
	require.ErrorIs(t, err, ErrWrongFilesystemType)

	_, err = NewExtReader(memimage.New(image.NTFS))
	require.ErrorIs(t, err, ErrWrongFilesystemType)
}

func TestRegularFileMetadataAgreesAcrossVariants(t *testing.T) {
	content := []byte("127.0.0.1 localhost\n")
	for _, fsType := range []image.FilesystemType{image.NTFS, image.Extent} {
		t.Run(fsType.String(), func(t *testing.T) {
			img := memimage.New(fsType)
			img.WriteFile("/etc/hosts", content, memimage.Options{Times: fixtureTimes})

			fs, err := Open(img)
			require.NoError(t, err)
			meta, err := fs.GetMetadata("/etc/hosts")
			require.NoError(t, err)

			assert.False(t, meta.IsDirectory)
			assert.True(t, meta.Allocated)
			assert.Equal(t, uint64(len(content)), meta.Size)
			assert.Equal(t, fixtureTimes.Modified, meta.Modified)
			assert.Equal(t, fixtureTimes.Accessed, meta.Accessed)
			assert.Equal(t, fixtureTimes.Changed, meta.MFTModified)
			assert.Equal(t, fixtureTimes.Created, meta.Created)

			dir, err := fs.GetMetadata("/etc")
			require.NoError(t, err)
			assert.True(t, dir.IsDirectory)
			assert.True(t, dir.Allocated)
		})
	}
}

func TestNTFSMetadata(t *testing.T) {
	img := memimage.New(image.NTFS)
	img.WriteFile("/Windows/notepad.exe", make([]byte, 9000), memimage.Options{Times: fixtureTimes, Attributes: 0x21})
	img.WriteFile("/boot.ini", []byte("[boot loader]"), memimage.Options{Resident: true})
	img.WriteFile("/old.txt", []byte("gone"), memimage.Options{Deleted: true})

	fs, err := NewNTFSReader(img)
	require.NoError(t, err)

	meta, err := fs.GetMetadata("/Windows/notepad.exe")
	require.NoError(t, err)
	assert.Equal(t, uint64(9000), meta.Size)
	assert.Equal(t, uint32(0x21), meta.Attributes)

	meta, err = fs.GetMetadata("/boot.ini")
	require.NoError(t, err)
	assert.Equal(t, uint64(13), meta.Size)
	assert.Equal(t, uint32(0x20), meta.Attributes)

	meta, err = fs.GetMetadata("/old.txt")
	require.NoError(t, err)
	assert.False(t, meta.Allocated)
}

func TestNTFSPathsFoldCase(t *testing.T) {
	img := memimage.New(image.NTFS)
	img.WriteFile("/Windows/System32/config/SYSTEM", []byte("regf"))

	fs, err := NewNTFSReader(img)
	require.NoError(t, err)

	data, err := fs.ReadFile(`C:\WINDOWS\system32\Config\system`)
	require.NoError(t, err)
	assert.Equal(t, "regf", string(data))

	names, err := fs.ListDirectory("/windows/SYSTEM32")
	require.NoError(t, err)
	assert.Equal(t, []string{"config"}, names)
}

func TestExtPathsAreCaseSensitive(t *testing.T) {
	img := memimage.New(image.Extent)
	img.WriteFile("/etc/hostname", []byte("web01\n"))

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	data, err := fs.ReadFile("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "web01\n", string(data))

	_, err = fs.ReadFile("/etc/HOSTNAME")
	require.ErrorIs(t, err, image.ErrNotFound)
}

func TestExtMetadata(t *testing.T) {
	img := memimage.New(image.Extent)
	img.WriteFile("/etc/shadow", []byte("root:*:19000::::::\n"), memimage.Options{Mode: memimage.ModeRegular | 0o640})
	img.WriteFile("/tmp/removed", []byte("x"), memimage.Options{Deleted: true, Times: fixtureTimes})

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	meta, err := fs.GetMetadata("/etc/shadow")
	require.NoError(t, err)
	assert.Equal(t, uint32(memimage.ModeRegular|0o640), meta.Attributes)
	assert.True(t, meta.Created.IsZero())

	meta, err = fs.GetMetadata("/tmp/removed")
	require.NoError(t, err)
	assert.False(t, meta.Allocated)
}

func TestDecodeInodeWithoutExtraFields(t *testing.T) {
	ino := memimage.EncodeInode(memimage.InodeSpec{Mode: memimage.ModeDirectory | 0o755, Links: 2, Times: fixtureTimes})

	meta, err := DecodeInode(ino[:128])
	require.NoError(t, err)
	assert.True(t, meta.IsDirectory)
	assert.True(t, meta.Created.IsZero())
	assert.Equal(t, fixtureTimes.Modified.Truncate(time.Second), meta.Modified)

	_, err = DecodeInode(ino[:100])
	require.ErrorIs(t, err, ErrDecode)
}

func TestExtOwner(t *testing.T) {
	img := memimage.New(image.Extent)
	img.MkdirAll("/home")
	img.MkdirAll("/home/svc", memimage.Options{UID: 70001, GID: 70002})
	img.WriteFile("/etc/passwd", []byte("root:x:0:0::/root:/bin/sh\n"))

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	owner, err := fs.GetOwner("/home/svc")
	require.NoError(t, err)
	assert.Equal(t, Owner{UID: 70001, GID: 70002}, owner)

	owner, err = fs.GetOwner("/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, Owner{}, owner)

	_, err = fs.GetOwner("/home/nobody")
	require.ErrorIs(t, err, image.ErrNotFound)

	var _ OwnerReader = fs
}

func TestDecodeInodeOwner(t *testing.T) {
	ino := memimage.EncodeInode(memimage.InodeSpec{Mode: memimage.ModeRegular | 0o600, UID: 0x00020003, GID: 0x00040005})

	owner, err := DecodeInodeOwner(ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00020003), owner.UID)
	assert.Equal(t, uint32(0x00040005), owner.GID)
	assert.Equal(t, []byte{0x03, 0x00}, ino[0x02:0x04])
	assert.Equal(t, []byte{0x02, 0x00}, ino[0x78:0x7A])

	_, err = DecodeInodeOwner(ino[:64])
	require.ErrorIs(t, err, ErrDecode)
}

func TestDecodeMFTRecordErrors(t *testing.T) {
	rec := memimage.EncodeMFTRecord(memimage.MFTSpec{Name: "a.txt", Size: 10})

	bad := append([]byte(nil), rec...)
	copy(bad, "BAAD")
	_, err := DecodeMFTRecord(bad)
	require.ErrorIs(t, err, ErrDecode)

	torn := append([]byte(nil), rec...)
	torn[510] ^= 0xFF
	_, err = DecodeMFTRecord(torn)
	require.ErrorIs(t, err, ErrDecode)

	_, err = DecodeMFTRecord(rec[:0x20])
	require.ErrorIs(t, err, ErrDecode)
}

func TestCorruptRecordSurfacesAsDecodeError(t *testing.T) {
	img := memimage.New(image.NTFS)
	ref := img.WriteFile("/pagefile.sys", []byte("data"))
	img.SetRecord(ref, []byte("garbage"))

	fs, err := NewNTFSReader(img)
	require.NoError(t, err)

	_, err = fs.GetMetadata("/pagefile.sys")
	require.ErrorIs(t, err, ErrDecode)
	_, err = fs.ReadFile("/pagefile.sys")
	require.ErrorIs(t, err, ErrDecode)
}

func TestReadFileRejectsDirectories(t *testing.T) {
	img := memimage.New(image.Extent)
	img.MkdirAll("/var/log")

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	_, err = fs.ReadFile("/var/log")
	require.ErrorIs(t, err, ErrIsDirectory)
}

func TestReadFilePropagatesIOErrors(t *testing.T) {
	img := memimage.New(image.Extent)
	img.WriteFile("/etc/os-release", []byte("ID=debian\n"))
	img.FailReads["/etc/os-release"] = true

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	_, err = fs.ReadFile("/etc/os-release")
	require.ErrorIs(t, err, image.ErrIO)
}

func TestListRoot(t *testing.T) {
	img := memimage.New(image.Extent)
	img.MkdirAll("/etc")
	img.MkdirAll("/home/alice")

	fs, err := NewExtReader(img)
	require.NoError(t, err)

	names, err := fs.ListDirectory("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"etc", "home"}, names)

	_, err = fs.ListDirectory("/srv")
	require.ErrorIs(t, err, image.ErrNotFound)
}
