package image

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ilexum-group/imgtriage/internal/utils"
)

// CommandRunner runs one Sleuth Kit tool and returns its standard output.
type CommandRunner interface {
	Output(name string, args ...string) ([]byte, error)
	Stream(name string, args ...string) (io.ReadCloser, error)
}

// execRunner runs the real binaries found in PATH.
type execRunner struct{}

func (execRunner) Output(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

func (execRunner) Stream(name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.Command(name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

// processReader stops the process when the caller is done reading.
type processReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *processReader) Close() error {
	_ = p.ReadCloser.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	return nil
}

// TSK reads a filesystem inside a disk image through the Sleuth Kit command
// line tools (mmls, fsstat, fls, ifind, icat, blkcat).
type TSK struct {
	imagePath string
	offset    int64
	run       CommandRunner
	layout    fsLayout

	mu         sync.Mutex
	inodeCache map[string]int64

	mftOnce sync.Once
	mft     []byte
	mftErr  error
}

type fsLayout struct {
	fsType        FilesystemType
	root          Reference
	mftEntrySize  int64
	inodeSize     int64
	blockSize     int64
	inodesPerGrp  int64
	inodeTables   map[int64]int64
	rawTypeString string
}

// OpenTSK opens the image at imagePath with the tools found in PATH.
func OpenTSK(imagePath string) (*TSK, error) {
	return OpenTSKWithRunner(imagePath, execRunner{})
}

// OpenTSKWithRunner opens the image using run to invoke the tools.
func OpenTSKWithRunner(imagePath string, run CommandRunner) (*TSK, error) {
	t := &TSK{
		imagePath:  imagePath,
		run:        run,
		inodeCache: make(map[string]int64),
	}
	t.offset = t.detectImageOffset()

	out, err := run.Output("fsstat", "-o", strconv.FormatInt(t.offset, 10), imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: fsstat failed for %s: %v", ErrIO, imagePath, err)
	}
	layout, err := parseFsstat(out)
	if err != nil {
		return nil, err
	}
	t.layout = layout

	utils.LogInfo("Image opened", map[string]string{
		"image":      imagePath,
		"offset":     strconv.FormatInt(t.offset, 10),
		"filesystem": layout.rawTypeString,
	})
	return t, nil
}

// Offset returns the sector offset of the analyzed partition.
func (t *TSK) Offset() int64 { return t.offset }

// FilesystemType returns the family reported by fsstat.
func (t *TSK) FilesystemType() FilesystemType { return t.layout.fsType }

// RootReference returns the root directory's inode or MFT entry.
func (t *TSK) RootReference() Reference { return t.layout.root }

type imagePartition struct {
	startSector int64
	endSector   int64
	length      int64
	description string
}

var mmlsLine = regexp.MustCompile(`^\s*\d+\:\s+\d+:\d+\s+(\d+)\s+(\d+)\s+(\d+)\s+(.+)$`)

// osMarkers identify a partition holding an installed system.
var osMarkers = []string{
	"/Windows/System32/config/SYSTEM",
	"/etc/os-release",
	"/etc/lsb-release",
	"/usr/lib/os-release",
}

func (t *TSK) detectImageOffset() int64 {
	partitions, err := t.listImagePartitions()
	if err != nil || len(partitions) == 0 {
		utils.LogDebug("No partition table, analyzing image as a single volume", utils.Meta("image", t.imagePath))
		return 0
	}

	for _, part := range partitions {
		if t.detectOSOnPartition(part.startSector) {
			utils.LogDebug("OS marker found on partition", map[string]string{
				"start":       strconv.FormatInt(part.startSector, 10),
				"description": part.description,
			})
			return part.startSector
		}
	}

	// Fallback: use first non-zero partition start if no OS markers were found.
	for _, part := range partitions {
		if part.startSector > 0 {
			return part.startSector
		}
	}
	return 0
}

func (t *TSK) listImagePartitions() ([]imagePartition, error) {
	output, err := t.run.Output("mmls", t.imagePath)
	if err != nil {
		return nil, err
	}
	return parseMmls(output)
}

func parseMmls(output []byte) ([]imagePartition, error) {
	parts := make([]imagePartition, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Slot") || strings.Contains(line, "Meta") || strings.Contains(line, "-------") {
			continue
		}
		m := mmlsLine.FindStringSubmatch(line)
		if len(m) != 5 {
			continue
		}
		start, err1 := strconv.ParseInt(m[1], 10, 64)
		end, err2 := strconv.ParseInt(m[2], 10, 64)
		length, err3 := strconv.ParseInt(m[3], 10, 64)
		if err1 == nil && err2 == nil && err3 == nil && start > 0 {
			parts = append(parts, imagePartition{
				startSector: start,
				endSector:   end,
				length:      length,
				description: strings.TrimSpace(m[4]),
			})
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no valid partitions found in mmls output")
	}
	return parts, nil
}

func (t *TSK) detectOSOnPartition(offset int64) bool {
	for _, p := range osMarkers {
		out, err := t.run.Output("ifind", "-o", strconv.FormatInt(offset, 10), "-n", p, t.imagePath)
		if err != nil {
			continue
		}
		if _, err := parseInode(out); err == nil {
			return true
		}
	}
	return false
}

func parseInode(out []byte) (int64, error) {
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty ifind output")
	}
	// NTFS addresses look like 64-128-2
	num := strings.SplitN(fields[0], "-", 2)[0]
	return strconv.ParseInt(num, 10, 64)
}

func parseFsstat(out []byte) (fsLayout, error) {
	layout := fsLayout{inodeTables: make(map[int64]int64)}
	rootSeen := false
	group := int64(-1)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "File System Type":
			layout.rawTypeString = value
			lower := strings.ToLower(value)
			switch {
			case strings.HasPrefix(lower, "ntfs"):
				layout.fsType = NTFS
			case strings.HasPrefix(lower, "ext"):
				layout.fsType = Extent
			default:
				layout.fsType = Other
			}
		case "Root Directory":
			if n, err := strconv.ParseUint(firstField(value), 10, 64); err == nil {
				layout.root = Reference(n)
				rootSeen = true
			}
		case "Size of MFT Entries":
			layout.mftEntrySize = parseLeadingInt(value)
		case "Inode Size":
			layout.inodeSize = parseLeadingInt(value)
		case "Block Size":
			layout.blockSize = parseLeadingInt(value)
		case "Inodes per group":
			layout.inodesPerGrp = parseLeadingInt(value)
		case "Group":
			group = parseLeadingInt(strings.TrimSuffix(value, ":"))
		case "Inode Table":
			if group >= 0 {
				start, _, _ := strings.Cut(value, "-")
				layout.inodeTables[group] = parseLeadingInt(start)
			}
		}
	}
	if layout.rawTypeString == "" {
		return layout, fmt.Errorf("%w: fsstat reported no filesystem type", ErrIO)
	}
	if !rootSeen {
		switch layout.fsType {
		case NTFS:
			layout.root = 5
		case Extent:
			layout.root = 2
		}
	}
	if layout.mftEntrySize <= 0 {
		layout.mftEntrySize = 1024
	}
	return layout, nil
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseLeadingInt(s string) int64 {
	n, err := strconv.ParseInt(firstField(s), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (t *TSK) offsetArg() string {
	return strconv.FormatInt(t.offset, 10)
}

// ReadBytes returns up to length bytes of the file at p starting at offset.
func (t *TSK) ReadBytes(p string, offset, length int64) ([]byte, error) {
	inode, err := t.findInode(p)
	if err != nil {
		return nil, err
	}
	rc, err := t.run.Stream("icat", "-o", t.offsetArg(), t.imagePath, strconv.FormatInt(inode, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: icat %s: %v", ErrIO, p, err)
	}
	defer rc.Close()

	if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: icat %s: %v", ErrIO, p, err)
	}
	buf, err := io.ReadAll(io.LimitReader(rc, length))
	if err != nil {
		return nil, fmt.Errorf("%w: icat %s: %v", ErrIO, p, err)
	}
	return buf, nil
}

// ListDirectory lists the allocated entries of the directory at p.
func (t *TSK) ListDirectory(p string) ([]DirEntry, error) {
	inode, err := t.findInode(p)
	if err != nil {
		return nil, err
	}
	output, err := t.run.Output("fls", "-o", t.offsetArg(), t.imagePath, strconv.FormatInt(inode, 10))
	if err != nil {
		return nil, fmt.Errorf("%w: fls %s: %v", ErrIO, p, err)
	}
	return parseFls(output), nil
}

// parseFls reads lines such as "d/d 11:\tlost+found" or "r/r 64-128-2:\tfile.txt".
// Deleted entries and alternate data streams are skipped.
func parseFls(output []byte) []DirEntry {
	entries := make([]DirEntry, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		head, name, ok := strings.Cut(line, ":\t")
		if !ok {
			head, name, ok = strings.Cut(line, ": ")
			if !ok {
				continue
			}
		}
		name = strings.TrimSpace(name)
		if name == "." || name == ".." || strings.Contains(name, ":") {
			continue
		}
		fields := strings.Fields(head)
		if len(fields) != 2 || strings.Contains(head, "*") {
			continue
		}
		ref, err := parseInode([]byte(fields[1]))
		if err != nil {
			continue
		}
		kind := EntryOther
		if types := strings.SplitN(fields[0], "/", 2); len(types) == 2 {
			switch types[1] {
			case "d":
				kind = EntryDirectory
			case "r":
				kind = EntryFile
			}
		}
		entries = append(entries, DirEntry{Name: name, Reference: Reference(ref), Type: kind})
	}
	return entries
}

func (t *TSK) findInode(p string) (int64, error) {
	normPath := NormalizePath(p)
	if normPath == "/" {
		return int64(t.layout.root), nil
	}

	t.mu.Lock()
	if inode, ok := t.inodeCache[normPath]; ok {
		t.mu.Unlock()
		return inode, nil
	}
	t.mu.Unlock()

	output, err := t.run.Output("ifind", "-o", t.offsetArg(), "-n", normPath, t.imagePath)
	if err != nil {
		// ifind exits non-zero for a missing name; anything else means the tool could not run
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, normPath)
		}
		return 0, fmt.Errorf("%w: ifind %s: %v", ErrIO, normPath, err)
	}
	inode, err := parseInode(output)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, normPath)
	}

	t.mu.Lock()
	t.inodeCache[normPath] = inode
	t.mu.Unlock()

	return inode, nil
}

// NativeMetadata returns the raw MFT record (NTFS) or inode (ext) for ref.
func (t *TSK) NativeMetadata(ref Reference) ([]byte, error) {
	switch t.layout.fsType {
	case NTFS:
		return t.mftRecord(ref)
	case Extent:
		return t.inode(ref)
	default:
		return nil, fmt.Errorf("%w: no native records for filesystem %s", ErrIO, t.layout.rawTypeString)
	}
}

// mftRecord slices entry ref out of $MFT, which is read once per image.
func (t *TSK) mftRecord(ref Reference) ([]byte, error) {
	t.mftOnce.Do(func() {
		t.mft, t.mftErr = t.run.Output("icat", "-o", t.offsetArg(), t.imagePath, "0")
	})
	if t.mftErr != nil {
		return nil, fmt.Errorf("%w: reading $MFT: %v", ErrIO, t.mftErr)
	}
	start := int64(ref) * t.layout.mftEntrySize
	end := start + t.layout.mftEntrySize
	if start < 0 || end > int64(len(t.mft)) {
		return nil, fmt.Errorf("%w: MFT entry %d", ErrNotFound, ref)
	}
	record := make([]byte, t.layout.mftEntrySize)
	copy(record, t.mft[start:end])
	return record, nil
}

// inode reads inode ref from its group's inode table.
func (t *TSK) inode(ref Reference) ([]byte, error) {
	l := t.layout
	if ref == 0 || l.inodesPerGrp <= 0 || l.inodeSize <= 0 || l.blockSize <= 0 {
		return nil, fmt.Errorf("%w: inode %d (incomplete fsstat layout)", ErrNotFound, ref)
	}
	group := (int64(ref) - 1) / l.inodesPerGrp
	index := (int64(ref) - 1) % l.inodesPerGrp
	table, ok := l.inodeTables[group]
	if !ok {
		return nil, fmt.Errorf("%w: inode %d (no table for group %d)", ErrNotFound, ref, group)
	}
	byteOff := index * l.inodeSize
	block := table + byteOff/l.blockSize
	within := byteOff % l.blockSize

	out, err := t.run.Output("blkcat", "-o", t.offsetArg(), t.imagePath, strconv.FormatInt(block, 10), "1")
	if err != nil {
		return nil, fmt.Errorf("%w: blkcat %d: %v", ErrIO, block, err)
	}
	if within+l.inodeSize > int64(len(out)) {
		return nil, fmt.Errorf("%w: short block %d for inode %d", ErrIO, block, ref)
	}
	rec := make([]byte, l.inodeSize)
	copy(rec, out[within:within+l.inodeSize])
	return rec, nil
}
