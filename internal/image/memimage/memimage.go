// Package memimage is an in-memory image.Image for tests and fixtures.
package memimage

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ilexum-group/imgtriage/internal/image"
)

type node struct {
	name     string
	dir      bool
	data     []byte
	record   []byte
	children []image.Reference
}

// Image is a writable in-memory filesystem exposing native records of the
// chosen family. Lookups are case-sensitive, like the external layer.
type Image struct {
	mu     sync.RWMutex
	fsType image.FilesystemType
	root   image.Reference
	next   image.Reference
	nodes  map[image.Reference]*node

	// FailReads makes ReadBytes fail with image.ErrIO for these paths.
	FailReads map[string]bool
}

// New creates an empty image whose root directory uses the family's usual
// root reference (5 on NTFS, 2 on ext).
func New(fsType image.FilesystemType) *Image {
	m := &Image{
		fsType:    fsType,
		nodes:     make(map[image.Reference]*node),
		FailReads: make(map[string]bool),
	}
	switch fsType {
	case image.NTFS:
		m.root, m.next = 5, 64
	default:
		m.root, m.next = 2, 11
	}
	m.nodes[m.root] = &node{name: "", dir: true, record: m.encode("", 0, true, Options{})}
	return m
}

// Options tune the native record written for a file or directory.
type Options struct {
	Times      Times
	Attributes uint32
	Deleted    bool
	Resident   bool
	UID        uint32
	GID        uint32
	Mode       uint16
}

func (m *Image) encode(name string, size uint64, dir bool, opts Options) []byte {
	switch m.fsType {
	case image.NTFS:
		attrs := opts.Attributes
		if attrs == 0 {
			attrs = 0x20 // FILE_ATTRIBUTE_ARCHIVE
			if dir {
				attrs = 0x10
			}
		}
		return EncodeMFTRecord(MFTSpec{
			Name:       name,
			Size:       size,
			Directory:  dir,
			Deleted:    opts.Deleted,
			Resident:   opts.Resident,
			Attributes: attrs,
			Times:      opts.Times,
		})
	case image.Extent:
		mode := opts.Mode
		if mode == 0 {
			mode = ModeRegular | 0o644
			if dir {
				mode = ModeDirectory | 0o755
			}
		}
		links := uint16(1)
		if dir {
			links = 2
		}
		return EncodeInode(InodeSpec{
			Mode:    mode,
			UID:     opts.UID,
			GID:     opts.GID,
			Size:    size,
			Links:   links,
			Deleted: opts.Deleted,
			Times:   opts.Times,
		})
	default:
		return nil
	}
}

func split(p string) []string {
	clean := strings.Trim(image.NormalizePath(p), "/")
	if clean == "" {
		return nil
	}
	return strings.Split(clean, "/")
}

// MkdirAll creates the directory at p and any missing parents.
func (m *Image) MkdirAll(p string, opts ...Options) image.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirAllLocked(split(p), firstOption(opts))
}

func firstOption(opts []Options) Options {
	if len(opts) > 0 {
		return opts[0]
	}
	return Options{}
}

func (m *Image) mkdirAllLocked(parts []string, opts Options) image.Reference {
	cur := m.root
	for _, part := range parts {
		ref, ok := m.childLocked(cur, part)
		if !ok {
			ref = m.addLocked(cur, &node{name: part, dir: true, record: m.encode(part, 0, true, opts)})
		}
		cur = ref
	}
	return cur
}

// WriteFile creates or replaces the file at p, creating parent directories.
func (m *Image) WriteFile(p string, data []byte, opts ...Options) image.Reference {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := split(p)
	if len(parts) == 0 {
		panic("memimage: cannot write the root directory")
	}
	parent := m.mkdirAllLocked(parts[:len(parts)-1], Options{})
	name := parts[len(parts)-1]
	n := &node{name: name, data: data, record: m.encode(name, uint64(len(data)), false, firstOption(opts))}
	if ref, ok := m.childLocked(parent, name); ok {
		m.nodes[ref] = n
		return ref
	}
	return m.addLocked(parent, n)
}

// SetRecord replaces the native record of ref, e.g. with corrupt bytes.
func (m *Image) SetRecord(ref image.Reference, record []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[ref]; ok {
		n.record = record
	}
}

func (m *Image) addLocked(parent image.Reference, n *node) image.Reference {
	ref := m.next
	m.next++
	m.nodes[ref] = n
	m.nodes[parent].children = append(m.nodes[parent].children, ref)
	return ref
}

func (m *Image) childLocked(dir image.Reference, name string) (image.Reference, bool) {
	for _, ref := range m.nodes[dir].children {
		if m.nodes[ref].name == name {
			return ref, true
		}
	}
	return 0, false
}

func (m *Image) lookupLocked(p string) (*node, error) {
	cur := m.root
	for _, part := range split(p) {
		if !m.nodes[cur].dir {
			return nil, fmt.Errorf("%w: %s", image.ErrNotFound, p)
		}
		ref, ok := m.childLocked(cur, part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", image.ErrNotFound, p)
		}
		cur = ref
	}
	return m.nodes[cur], nil
}

// FilesystemType returns the family chosen at construction.
func (m *Image) FilesystemType() image.FilesystemType { return m.fsType }

// RootReference returns the root directory reference.
func (m *Image) RootReference() image.Reference { return m.root }

// ReadBytes returns up to length bytes of the file at p from offset.
func (m *Image) ReadBytes(p string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads[image.NormalizePath(p)] {
		return nil, fmt.Errorf("%w: simulated read failure on %s", image.ErrIO, p)
	}
	n, err := m.lookupLocked(p)
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(n.data)) {
		return []byte{}, nil
	}
	end := min(offset+length, int64(len(n.data)))
	out := make([]byte, end-offset)
	copy(out, n.data[offset:end])
	return out, nil
}

// ListDirectory lists the directory at p in creation order.
func (m *Image) ListDirectory(p string) ([]image.DirEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, err := m.lookupLocked(p)
	if err != nil {
		return nil, err
	}
	if !n.dir {
		return nil, fmt.Errorf("%w: %s is not a directory", image.ErrNotFound, p)
	}
	entries := make([]image.DirEntry, 0, len(n.children))
	for _, ref := range n.children {
		child := m.nodes[ref]
		kind := image.EntryFile
		if child.dir {
			kind = image.EntryDirectory
		}
		entries = append(entries, image.DirEntry{Name: child.name, Reference: ref, Type: kind})
	}
	return entries, nil
}

// NativeMetadata returns the encoded record of ref.
func (m *Image) NativeMetadata(ref image.Reference) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: reference %d", image.ErrNotFound, ref)
	}
	out := make([]byte, len(n.record))
	copy(out, n.record)
	return out, nil
}
