package cindex

import (
	"encoding/binary"
	"sort"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

type dirRecord struct {
	path  string
	entry FileEntry
}

// buildFullDirectoryIndex encodes the full, order-independent path ->
// FileEntry table: a u32 count followed by (length-prefixed path, encoded
// FileEntry) records. Returns the bytes and each record's byte offset
// within them, for the path-hash index to point at.
func buildFullDirectoryIndex(records []dirRecord) ([]byte, []uint32) {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(records)))
	offsets := make([]uint32, len(records))
	for i, r := range records {
		offsets[i] = uint32(len(out))
		out = append(out, primitives.WriteLengthPrefixedString(r.path)...)
		out = append(out, encodeFileEntry(r.entry)...)
	}
	return out, offsets
}

func parseFullDirectoryIndex(b []byte) ([]dirRecord, error) {
	if len(b) < 4 {
		return nil, cerr.New(cerr.EEncoding, "parseFullDirectoryIndex", "short buffer for count")
	}
	count := binary.LittleEndian.Uint32(b)
	off := 4
	records := make([]dirRecord, count)
	for i := range records {
		path, n, err := primitives.ReadLengthPrefixedString(b[off:])
		if err != nil {
			return nil, cerr.Wrap(cerr.EEncoding, "parseFullDirectoryIndex", err)
		}
		off += n
		entry, n, err := decodeFileEntry(b[off:])
		if err != nil {
			return nil, cerr.Wrap(cerr.EEncoding, "parseFullDirectoryIndex", err)
		}
		off += n
		records[i] = dirRecord{path: path, entry: entry}
	}
	return records, nil
}

type pathHashEntry struct {
	hash       uint64
	dirOffset  uint32
}

// buildPathHashIndex builds the sorted-by-hash lookup table pointing into
// the full directory index's byte offsets.
func buildPathHashIndex(records []dirRecord, dirOffsets []uint32, seed uint64) []byte {
	entries := make([]pathHashEntry, len(records))
	for i, r := range records {
		entries[i] = pathHashEntry{hash: PathHash(r.path, seed), dirOffset: dirOffsets[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(entries)))
	for _, e := range entries {
		var rec [12]byte
		binary.LittleEndian.PutUint64(rec[0:], e.hash)
		binary.LittleEndian.PutUint32(rec[8:], e.dirOffset)
		out = append(out, rec[:]...)
	}
	return out
}

func parsePathHashIndex(b []byte) ([]pathHashEntry, error) {
	if len(b) < 4 {
		return nil, cerr.New(cerr.EEncoding, "parsePathHashIndex", "short buffer for count")
	}
	count := binary.LittleEndian.Uint32(b)
	off := 4
	entries := make([]pathHashEntry, count)
	for i := range entries {
		if len(b) < off+12 {
			return nil, cerr.New(cerr.EEncoding, "parsePathHashIndex", "short buffer for entry")
		}
		entries[i] = pathHashEntry{
			hash:      binary.LittleEndian.Uint64(b[off:]),
			dirOffset: binary.LittleEndian.Uint32(b[off+8:]),
		}
		off += 12
	}
	return entries, nil
}

// lookup resolves path to its dirRecord via the path-hash index: it checks
// every hash-index entry sharing the path's hash and compares names. If none
// matches it reports not found; the full directory index is not scanned.
func lookup(path string, seed uint64, hashEntries []pathHashEntry, dirBytes []byte) (FileEntry, bool, error) {
	h := PathHash(path, seed)
	i := sort.Search(len(hashEntries), func(i int) bool { return hashEntries[i].hash >= h })
	for ; i < len(hashEntries) && hashEntries[i].hash == h; i++ {
		entry, _, err := decodeFileEntryAt(dirBytes, hashEntries[i].dirOffset)
		if err != nil {
			return FileEntry{}, false, err
		}
		if entry.name == path {
			return entry.FileEntry, true, nil
		}
	}
	return FileEntry{}, false, nil
}

type namedFileEntry struct {
	name string
	FileEntry
}

func decodeFileEntryAt(dirBytes []byte, off uint32) (namedFileEntry, int, error) {
	if int(off) > len(dirBytes) {
		return namedFileEntry{}, 0, cerr.New(cerr.EEncoding, "decodeFileEntryAt", "offset out of range")
	}
	path, n, err := primitives.ReadLengthPrefixedString(dirBytes[off:])
	if err != nil {
		return namedFileEntry{}, 0, cerr.Wrap(cerr.EEncoding, "decodeFileEntryAt", err)
	}
	entry, n2, err := decodeFileEntry(dirBytes[int(off)+n:])
	if err != nil {
		return namedFileEntry{}, 0, cerr.Wrap(cerr.EEncoding, "decodeFileEntryAt", err)
	}
	return namedFileEntry{name: path, FileEntry: entry}, n + n2, nil
}
