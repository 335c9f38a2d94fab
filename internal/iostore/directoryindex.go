package iostore

import (
	"encoding/binary"
	"strings"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

const sentinelU32 = 0xFFFFFFFF

type dirEntry struct {
	Name       uint32 // index into string table; sentinel for the root
	FirstChild uint32
	NextSibling uint32
	FirstFile  uint32
}

type fileEntry struct {
	Name      uint32
	NextFile  uint32
	UserData  uint32 // chunk index
}

// DirectoryIndex is the TOC's path -> chunk-index map: mount point, dir
// entries, file entries, and a flat string table, traversed as a tree.
type DirectoryIndex struct {
	MountPoint string
	dirs       []dirEntry
	files      []fileEntry
	strings    []string
}

// NewDirectoryIndex builds an index rooted at mountPoint with a single root
// directory entry (sentinel name per §3).
func NewDirectoryIndex(mountPoint string) *DirectoryIndex {
	return &DirectoryIndex{
		MountPoint: mountPoint,
		dirs:       []dirEntry{{Name: sentinelU32, FirstChild: sentinelU32, NextSibling: sentinelU32, FirstFile: sentinelU32}},
	}
}

func (d *DirectoryIndex) internString(s string) uint32 {
	for i, existing := range d.strings {
		if existing == s {
			return uint32(i)
		}
	}
	d.strings = append(d.strings, s)
	return uint32(len(d.strings) - 1)
}

// findOrCreateDir walks/creates the directory chain for the given path
// segments starting at dirIdx, returning the final directory's index.
func (d *DirectoryIndex) findOrCreateDir(dirIdx uint32, segments []string) uint32 {
	if len(segments) == 0 {
		return dirIdx
	}
	seg := segments[0]
	child := d.dirs[dirIdx].FirstChild
	for child != sentinelU32 {
		if d.strings[d.dirs[child].Name] == seg {
			return d.findOrCreateDir(child, segments[1:])
		}
		child = d.dirs[child].NextSibling
	}
	newIdx := uint32(len(d.dirs))
	d.dirs = append(d.dirs, dirEntry{
		Name:        d.internString(seg),
		FirstChild:  sentinelU32,
		NextSibling: d.dirs[dirIdx].FirstChild,
		FirstFile:   sentinelU32,
	})
	d.dirs[dirIdx].FirstChild = newIdx
	return d.findOrCreateDir(newIdx, segments[1:])
}

// Insert adds a (relativePath, chunkIndex) mapping, creating directory
// segments as needed.
func (d *DirectoryIndex) Insert(relativePath string, chunkIndex int) {
	relativePath = strings.TrimPrefix(relativePath, "/")
	parts := strings.Split(relativePath, "/")
	fileName := parts[len(parts)-1]
	dirSegments := parts[:len(parts)-1]
	dirIdx := d.findOrCreateDir(0, dirSegments)
	newFile := uint32(len(d.files))
	d.files = append(d.files, fileEntry{
		Name:     d.internString(fileName),
		NextFile: d.dirs[dirIdx].FirstFile,
		UserData: uint32(chunkIndex),
	})
	d.dirs[dirIdx].FirstFile = newFile
}

// Entry is a resolved (path, chunkIndex) pair yielded by Walk.
type Entry struct {
	Path      string
	ChunkIndex int
}

// Walk yields every (path, chunk-index) pair in the index.
func (d *DirectoryIndex) Walk() []Entry {
	var out []Entry
	var visit func(dirIdx uint32, prefix string)
	visit = func(dirIdx uint32, prefix string) {
		f := d.dirs[dirIdx].FirstFile
		for f != sentinelU32 {
			fe := d.files[f]
			out = append(out, Entry{Path: prefix + d.strings[fe.Name], ChunkIndex: int(fe.UserData)})
			f = fe.NextFile
		}
		c := d.dirs[dirIdx].FirstChild
		for c != sentinelU32 {
			visit(c, prefix+d.strings[d.dirs[c].Name]+"/")
			c = d.dirs[c].NextSibling
		}
	}
	visit(0, "")
	return out
}

// Resolve returns the chunk index for path, if present.
func (d *DirectoryIndex) Resolve(path string) (int, bool) {
	path = strings.TrimPrefix(path, "/")
	for _, e := range d.Walk() {
		if e.Path == path {
			return e.ChunkIndex, true
		}
	}
	return 0, false
}

// Marshal encodes the directory index bytes: mount point (length-prefixed
// string), dir entries, file entries, string table.
func (d *DirectoryIndex) Marshal() []byte {
	var out []byte
	out = append(out, primitives.WriteLengthPrefixedString(d.MountPoint)...)

	dirBuf := make([]byte, 4+16*len(d.dirs))
	binary.LittleEndian.PutUint32(dirBuf, uint32(len(d.dirs)))
	off := 4
	for _, de := range d.dirs {
		binary.LittleEndian.PutUint32(dirBuf[off:], de.Name)
		binary.LittleEndian.PutUint32(dirBuf[off+4:], de.FirstChild)
		binary.LittleEndian.PutUint32(dirBuf[off+8:], de.NextSibling)
		binary.LittleEndian.PutUint32(dirBuf[off+12:], de.FirstFile)
		off += 16
	}
	out = append(out, dirBuf...)

	fileBuf := make([]byte, 4+12*len(d.files))
	binary.LittleEndian.PutUint32(fileBuf, uint32(len(d.files)))
	off = 4
	for _, fe := range d.files {
		binary.LittleEndian.PutUint32(fileBuf[off:], fe.Name)
		binary.LittleEndian.PutUint32(fileBuf[off+4:], fe.NextFile)
		binary.LittleEndian.PutUint32(fileBuf[off+8:], fe.UserData)
		off += 12
	}
	out = append(out, fileBuf...)

	strBuf := make([]byte, 0)
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(d.strings)))
	strBuf = append(strBuf, countBuf...)
	for _, s := range d.strings {
		strBuf = append(strBuf, primitives.WriteLengthPrefixedString(s)...)
	}
	out = append(out, strBuf...)
	return out
}

// ParseDirectoryIndex decodes directory index bytes produced by Marshal.
func ParseDirectoryIndex(b []byte) (*DirectoryIndex, error) {
	mount, n, err := primitives.ReadLengthPrefixedString(b)
	if err != nil {
		return nil, cerr.Wrap(cerr.EEncoding, "ParseDirectoryIndex", err)
	}
	off := n
	if len(b) < off+4 {
		return nil, cerr.New(cerr.EEncoding, "ParseDirectoryIndex", "short buffer for dir count")
	}
	dirCount := binary.LittleEndian.Uint32(b[off:])
	off += 4
	dirs := make([]dirEntry, dirCount)
	for i := range dirs {
		if len(b) < off+16 {
			return nil, cerr.New(cerr.EEncoding, "ParseDirectoryIndex", "short buffer for dir entries")
		}
		dirs[i] = dirEntry{
			Name:        binary.LittleEndian.Uint32(b[off:]),
			FirstChild:  binary.LittleEndian.Uint32(b[off+4:]),
			NextSibling: binary.LittleEndian.Uint32(b[off+8:]),
			FirstFile:   binary.LittleEndian.Uint32(b[off+12:]),
		}
		off += 16
	}
	if len(b) < off+4 {
		return nil, cerr.New(cerr.EEncoding, "ParseDirectoryIndex", "short buffer for file count")
	}
	fileCount := binary.LittleEndian.Uint32(b[off:])
	off += 4
	files := make([]fileEntry, fileCount)
	for i := range files {
		if len(b) < off+12 {
			return nil, cerr.New(cerr.EEncoding, "ParseDirectoryIndex", "short buffer for file entries")
		}
		files[i] = fileEntry{
			Name:     binary.LittleEndian.Uint32(b[off:]),
			NextFile: binary.LittleEndian.Uint32(b[off+4:]),
			UserData: binary.LittleEndian.Uint32(b[off+8:]),
		}
		off += 12
	}
	if len(b) < off+4 {
		return nil, cerr.New(cerr.EEncoding, "ParseDirectoryIndex", "short buffer for string count")
	}
	strCount := binary.LittleEndian.Uint32(b[off:])
	off += 4
	strs := make([]string, strCount)
	for i := range strs {
		s, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, cerr.Wrap(cerr.EEncoding, "ParseDirectoryIndex", err)
		}
		strs[i] = s
		off += n
	}
	return &DirectoryIndex{MountPoint: mount, dirs: dirs, files: files, strings: strs}, nil
}
