package cindex

import (
	"bytes"
	"encoding/binary"

	"github.com/zenforge/cascade/internal/cerr"
	"github.com/zenforge/cascade/internal/primitives"
)

// Reader parses a companion index archive for lookup and extraction.
type Reader struct {
	footer      Footer
	bodies      []byte
	dirBytes    []byte
	hashEntries []pathHashEntry
	compressors *Registry
}

// Parse decodes archive bytes produced by Archive.Build. aesKey is only
// consulted when the footer's encrypted-index flag is set.
func Parse(raw []byte, aesKey *primitives.AESKey) (*Reader, error) {
	if len(raw) < footerSize {
		return nil, cerr.New(cerr.EEncoding, "cindex.Parse", "buffer shorter than the footer")
	}
	footer, err := unmarshalFooter(raw[len(raw)-footerSize:])
	if err != nil {
		return nil, err
	}
	if footer.IndexOffset+footer.IndexSize+footerSize != uint64(len(raw)) {
		return nil, cerr.New(cerr.EInvariant, "cindex.Parse", "index region does not end where the footer begins")
	}
	bodies := raw[:footer.IndexOffset]
	rawIndex := raw[footer.IndexOffset : footer.IndexOffset+footer.IndexSize]

	var content []byte
	if footer.EncryptedIndex {
		if aesKey == nil {
			return nil, cerr.New(cerr.ECrypto, "cindex.Parse", "encrypted index requires an AES key")
		}
		decrypted, err := primitives.DecryptContainerECB(*aesKey, rawIndex)
		if err != nil {
			return nil, err
		}
		if len(decrypted) < 4 {
			return nil, cerr.New(cerr.EEncoding, "cindex.Parse", "decrypted index too short for length prefix")
		}
		clearLen := binary.LittleEndian.Uint32(decrypted[:4])
		if uint64(4+clearLen) > uint64(len(decrypted)) {
			return nil, cerr.New(cerr.EEncoding, "cindex.Parse", "decrypted index length prefix out of range")
		}
		content = decrypted[4 : 4+clearLen]
	} else {
		content = rawIndex
	}

	if sha1Sum(content) != footer.IndexHashSHA1 {
		return nil, cerr.New(cerr.EChecksum, "cindex.Parse", "index hash mismatch")
	}
	if len(content) < 4 {
		return nil, cerr.New(cerr.EEncoding, "cindex.Parse", "short index content for path-hash-index size")
	}
	hashSize := binary.LittleEndian.Uint32(content)
	if uint64(4+hashSize) > uint64(len(content)) {
		return nil, cerr.New(cerr.EEncoding, "cindex.Parse", "path-hash-index size out of range")
	}
	hashEntries, err := parsePathHashIndex(content[4 : 4+hashSize])
	if err != nil {
		return nil, err
	}
	dirBytes := content[4+hashSize:]

	return &Reader{
		footer:      footer,
		bodies:      bodies,
		dirBytes:    dirBytes,
		hashEntries: hashEntries,
		compressors: NewRegistry(),
	}, nil
}

// List returns every entry path recorded in the archive's directory index.
func (r *Reader) List() ([]string, error) {
	records, err := parseFullDirectoryIndex(r.dirBytes)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.path
	}
	return out, nil
}

// Read extracts and decompresses one entry's body by name.
func (r *Reader) Read(name string) ([]byte, error) {
	entry, ok, err := lookup(name, PathHashSeed, r.hashEntries, r.dirBytes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.New(cerr.EMissing, "cindex.Reader.Read", "entry not found: "+name)
	}
	if entry.Offset+entry.CompressedSize > uint64(len(r.bodies)) {
		return nil, cerr.New(cerr.EInvariant, "cindex.Reader.Read", "entry body exceeds archive bounds")
	}
	stored := r.bodies[entry.Offset : entry.Offset+entry.CompressedSize]
	if entry.MethodSlot == 0 {
		return stored, nil
	}
	methodName := r.footer.CompressionMethods[entry.MethodSlot-1]
	c, ok := r.compressors.Get(methodName)
	if !ok {
		return nil, cerr.New(cerr.ECompression, "cindex.Reader.Read", "unregistered compression method: "+methodName)
	}
	return c.Decompress(stored, int(entry.UncompressedSize))
}

// ReadAssetPaths reads the "chunknames" entry and splits it back into the
// newline-separated asset-relative paths.
func (r *Reader) ReadAssetPaths() ([]string, error) {
	body, err := r.Read(chunkNamesEntryName)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return splitLines(body), nil
}

func splitLines(b []byte) []string {
	parts := bytes.Split(b, []byte("\n"))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
